/*******************************************************************************
*
* Copyright 2024 The imgeditor Authors.
*
* This file is part of imgeditor.
*
* imgeditor is free software: you can redistribute it and/or modify it under
* the terms of the GNU General Public License as published by the Free
* Software Foundation, either version 3 of the License, or (at your option)
* any later version.
*
* imgeditor is distributed in the hope that it will be useful, but WITHOUT
* ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
* FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
* more details.
*
* You should have received a copy of the GNU General Public License along
* with imgeditor. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

package gpt

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

// Recipe describes a partition table to build, read from a TOML file
// instead of the inline "name:size,name:size" string a plain editor
// "main" subcommand would otherwise require. Reached via
// "imgeditor --type gpt -- partitions --recipe recipe.toml out.img".
type Recipe struct {
	DiskGUID   string          `toml:"disk_guid"`
	Partitions []RecipePartition `toml:"partition"`
}

// RecipePartition is one [[partition]] table entry.
type RecipePartition struct {
	Name    string `toml:"name"`
	TypeGUID string `toml:"type_guid"`
	SizeKiB int64  `toml:"size_kib"`
}

func loadRecipe(path string) (Recipe, error) {
	var r Recipe
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return r, fmt.Errorf("%w: decoding gpt recipe %s: %s", imgedit.ErrConfig, path, err.Error())
	}
	if len(r.Partitions) == 0 {
		return r, fmt.Errorf("%w: recipe %s declares no [[partition]] entries", imgedit.ErrConfig, path)
	}
	return r, nil
}

const (
	firstUsableLBA = 34 // 1 protective MBR + 1 primary header + 32 entry-array sectors
	entriesPerSet  = 128
	entryArrayLBAs = entriesPerSet * entrySize / sectorSize // 32
)

// buildFromRecipe lays out a full protective-MBR + primary/backup GPT
// image in memory from r, assigning partitions back-to-back starting at
// firstUsableLBA.
func buildFromRecipe(r Recipe) ([]byte, error) {
	diskGUID := uuid.New()
	if r.DiskGUID != "" {
		u, err := uuid.Parse(r.DiskGUID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad disk_guid %q: %s", imgedit.ErrConfig, r.DiskGUID, err.Error())
		}
		diskGUID = u
	}

	var entries []Entry
	lba := uint64(firstUsableLBA)
	for _, p := range r.Partitions {
		typeGUID := uuid.New()
		if p.TypeGUID != "" {
			u, err := uuid.Parse(p.TypeGUID)
			if err != nil {
				return nil, fmt.Errorf("%w: bad type_guid %q for partition %q: %s", imgedit.ErrConfig, p.TypeGUID, p.Name, err.Error())
			}
			typeGUID = u
		}
		sectors := uint64(p.SizeKiB) * 1024 / sectorSize
		if sectors == 0 {
			return nil, fmt.Errorf("%w: partition %q has zero size", imgedit.ErrConfig, p.Name)
		}
		entries = append(entries, Entry{
			TypeGUID:   rfc4122ToMixedEndian(typeGUID),
			UniqueGUID: rfc4122ToMixedEndian(uuid.New()),
			StartLBA:   lba,
			EndLBA:     lba + sectors - 1,
			Name:       p.Name,
		})
		lba += sectors
	}
	lastUsable := lba - 1
	backupEntriesLBA := lastUsable + 1
	altLBA := backupEntriesLBA + entryArrayLBAs

	entryBytes := make([]byte, entriesPerSet*entrySize)
	for i, e := range entries {
		copy(entryBytes[i*entrySize:(i+1)*entrySize], encodeEntry(e))
	}
	arrayCRC := crc.Checksum32(crc.CRC32ISOHDLC, entryBytes)

	primary := Header{
		Signature:               [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'},
		Revision:                0x00010000,
		HeaderSize:              headerSize,
		MyLBA:                   headerLBA,
		AlternateLBA:            altLBA,
		FirstUsableLBA:          firstUsableLBA,
		LastUsableLBA:           lastUsable,
		DiskGUID:                rfc4122ToMixedEndian(diskGUID),
		PartitionEntryLBA:       2,
		NumPartitionEntries:     entriesPerSet,
		SizeofPartitionEntry:    entrySize,
		PartitionEntryArrayCRC32: arrayCRC,
	}
	primary.HeaderCRC32 = headerCRC(primary)

	backup := primary
	backup.MyLBA = altLBA
	backup.AlternateLBA = headerLBA
	backup.PartitionEntryLBA = backupEntriesLBA
	backup.HeaderCRC32 = headerCRC(backup)

	total := (altLBA + 1) * sectorSize
	img := make([]byte, total)
	copy(img[0:sectorSize], protectiveMBR(altLBA))
	copy(img[headerLBA*sectorSize:], primary.encode())
	copy(img[2*sectorSize:], entryBytes)
	copy(img[backupEntriesLBA*sectorSize:], entryBytes)
	copy(img[altLBA*sectorSize:], backup.encode())
	return img, nil
}

func headerCRC(h Header) uint32 {
	h.HeaderCRC32 = 0
	encoded := h.encode()
	return crc.Checksum32(crc.CRC32ISOHDLC, encoded[:h.HeaderSize])
}

// rfc4122ToMixedEndian is the inverse of mixedEndianToRFC4122.
func rfc4122ToMixedEndian(u uuid.UUID) [16]byte {
	b := [16]byte(u)
	var out [16]byte
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// protectiveMBR builds the single-entry 0xEE protective MBR dos_partition
// table that precedes a GPT header, covering the whole disk up to lastLBA
// (or 0xFFFFFFFF if the disk is bigger than a 32-bit sector count).
func protectiveMBR(lastLBA uint64) []byte {
	b := make([]byte, sectorSize)
	size := lastLBA
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	entry := b[tableOffsetMBR : tableOffsetMBR+16]
	entry[4] = 0xEE // protective GPT
	putLE32(entry[8:12], 1)
	putLE32(entry[12:16], uint32(size))
	b[510], b[511] = 0x55, 0xaa
	return b
}

const tableOffsetMBR = 446

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Main implements "imgeditor --type gpt -- partitions --recipe <file> <out>":
// build a fresh protective-MBR + primary/backup GPT image from a TOML
// recipe instead of an inline partitions=... string.
func (*editor) Main(ctx *imgedit.Context, st imgedit.State, args []string) error {
	if len(args) == 0 || args[0] != "partitions" {
		return fmt.Errorf("%w: gpt main expects a \"partitions\" subcommand", imgedit.ErrConfig)
	}

	var recipePath, outPath string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--recipe":
			if i+1 >= len(args) {
				return fmt.Errorf("%w: --recipe requires a path", imgedit.ErrConfig)
			}
			i++
			recipePath = args[i]
		default:
			outPath = args[i]
		}
	}
	if recipePath == "" {
		return fmt.Errorf("%w: gpt partitions requires --recipe <file.toml>", imgedit.ErrConfig)
	}
	if outPath == "" {
		return fmt.Errorf("%w: gpt partitions requires an output path", imgedit.ErrConfig)
	}

	recipe, err := loadRecipe(recipePath)
	if err != nil {
		return err
	}
	img, err := buildFromRecipe(recipe)
	if err != nil {
		return err
	}

	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.Write(img)
	return err
}
