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

// Package gpt decodes and rebuilds GUID Partition Tables: the protective
// MBR, the primary/backup GPT headers, and the partition entry array.
package gpt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/imgeditor/imgeditor/internal/diskpart"
	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/reflectfmt"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	signature   = "EFI PART"
	sectorSize  = 512
	headerLBA   = 1
	partNameLen = 36 // UTF-16 code units, 72 bytes
)

// Header is the on-disk GPT header, sector-aligned at LBA 1.
type Header struct {
	Signature             [8]byte
	Revision              uint32
	HeaderSize            uint32
	HeaderCRC32           uint32
	Reserved1             uint32
	MyLBA                 uint64
	AlternateLBA          uint64
	FirstUsableLBA        uint64
	LastUsableLBA         uint64
	DiskGUID              [16]byte
	PartitionEntryLBA     uint64
	NumPartitionEntries   uint32
	SizeofPartitionEntry  uint32
	PartitionEntryArrayCRC32 uint32
}

const headerSize = 92

// headerDescriptor drives both List's header dump and the gpt.json
// sidecar's "header" object through the same field table, instead of
// hand-rolling a print routine and a string-built JSON object separately.
func headerDescriptor() *reflectfmt.Descriptor {
	return &reflectfmt.Descriptor{Fields: []reflectfmt.Field{
		{Name: "Signature", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindString},
		{Name: "Revision", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "HeaderSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "HeaderCRC32", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "MyLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "AlternateLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "FirstUsableLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "LastUsableLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "DiskGUID", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindByteArray, NoJSON: true},
		{Name: "PartitionEntryLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "NumPartitionEntries", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "SizeofPartitionEntry", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "PartitionEntryArrayCRC32", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
	}}
}

func (h *Header) decode(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("%w: gpt header truncated", imgedit.ErrTruncated)
	}
	copy(h.Signature[:], b[0:8])
	h.Revision = binary.LittleEndian.Uint32(b[8:12])
	h.HeaderSize = binary.LittleEndian.Uint32(b[12:16])
	h.HeaderCRC32 = binary.LittleEndian.Uint32(b[16:20])
	h.Reserved1 = binary.LittleEndian.Uint32(b[20:24])
	h.MyLBA = binary.LittleEndian.Uint64(b[24:32])
	h.AlternateLBA = binary.LittleEndian.Uint64(b[32:40])
	h.FirstUsableLBA = binary.LittleEndian.Uint64(b[40:48])
	h.LastUsableLBA = binary.LittleEndian.Uint64(b[48:56])
	copy(h.DiskGUID[:], b[56:72])
	h.PartitionEntryLBA = binary.LittleEndian.Uint64(b[72:80])
	h.NumPartitionEntries = binary.LittleEndian.Uint32(b[80:84])
	h.SizeofPartitionEntry = binary.LittleEndian.Uint32(b[84:88])
	h.PartitionEntryArrayCRC32 = binary.LittleEndian.Uint32(b[88:92])
	return nil
}

func (h *Header) encode() []byte {
	b := make([]byte, headerSize)
	copy(b[0:8], h.Signature[:])
	binary.LittleEndian.PutUint32(b[8:12], h.Revision)
	binary.LittleEndian.PutUint32(b[12:16], h.HeaderSize)
	binary.LittleEndian.PutUint32(b[16:20], h.HeaderCRC32)
	binary.LittleEndian.PutUint32(b[20:24], h.Reserved1)
	binary.LittleEndian.PutUint64(b[24:32], h.MyLBA)
	binary.LittleEndian.PutUint64(b[32:40], h.AlternateLBA)
	binary.LittleEndian.PutUint64(b[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(b[48:56], h.LastUsableLBA)
	copy(b[56:72], h.DiskGUID[:])
	binary.LittleEndian.PutUint64(b[72:80], h.PartitionEntryLBA)
	binary.LittleEndian.PutUint32(b[80:84], h.NumPartitionEntries)
	binary.LittleEndian.PutUint32(b[84:88], h.SizeofPartitionEntry)
	binary.LittleEndian.PutUint32(b[88:92], h.PartitionEntryArrayCRC32)
	return b
}

// Entry is one partition entry. Name is decoded from UTF-16LE.
type Entry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
}

const entrySize = 128

func decodeEntry(b []byte) Entry {
	var e Entry
	copy(e.TypeGUID[:], b[0:16])
	copy(e.UniqueGUID[:], b[16:32])
	e.StartLBA = binary.LittleEndian.Uint64(b[32:40])
	e.EndLBA = binary.LittleEndian.Uint64(b[40:48])
	e.Attributes = binary.LittleEndian.Uint64(b[48:56])

	units := make([]uint16, partNameLen)
	for i := 0; i < partNameLen; i++ {
		units[i] = binary.LittleEndian.Uint16(b[56+i*2 : 58+i*2])
	}
	e.Name = strings.TrimRight(string(utf16.Decode(units)), "\x00")
	return e
}

func encodeEntry(e Entry) []byte {
	b := make([]byte, entrySize)
	copy(b[0:16], e.TypeGUID[:])
	copy(b[16:32], e.UniqueGUID[:])
	binary.LittleEndian.PutUint64(b[32:40], e.StartLBA)
	binary.LittleEndian.PutUint64(b[40:48], e.EndLBA)
	binary.LittleEndian.PutUint64(b[48:56], e.Attributes)

	units := utf16.Encode([]rune(e.Name))
	for i := 0; i < partNameLen && i < len(units); i++ {
		binary.LittleEndian.PutUint16(b[56+i*2:58+i*2], units[i])
	}
	return b
}

func guidString(b [16]byte) string {
	u, err := uuid.FromBytes(mixedEndianToRFC4122(b))
	if err != nil {
		return "00000000-0000-0000-0000-000000000000"
	}
	return u.String()
}

// mixedEndianToRFC4122 converts a Microsoft-style mixed-endian GUID (the
// wire format every gpt_header/gpt_entry uses) into the big-endian byte
// order uuid.FromBytes expects.
func mixedEndianToRFC4122(b [16]byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// State is the editor's per-dispatch working set.
type State struct {
	Header     Header
	Entries    []Entry
	HeaderLBA  int64
}

type editor struct{}

// Editor is the registrable gpt Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string       { return "gpt" }
func (*editor) Descriptor() string { return "GUID Partition Table" }
func (*editor) Flags() imgedit.Flags {
	return imgedit.FlagMultiBin
}
func (*editor) HeaderSize() int64 { return (headerLBA + 1) * sectorSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: []byte(signature), Offset: headerLBA*sectorSize + 0}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, sectorSize)
	if _, err := fh.ReadAt(buf, headerLBA*sectorSize); err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading gpt header: %s", imgedit.ErrIO, err.Error())
	}
	if err := s.Header.decode(buf); err != nil {
		return err
	}
	if string(s.Header.Signature[:]) != signature {
		return imgedit.ErrBadMagic
	}

	check := crc.NewCRC32(crc.CRC32ISOHDLC)
	hdrCopy := s.Header
	hdrCopy.HeaderCRC32 = 0
	encoded := hdrCopy.encode()
	checkLen := int(s.Header.HeaderSize)
	if checkLen > len(encoded) || checkLen < 0 {
		checkLen = len(encoded)
	}
	check.Update(encoded[:checkLen])
	if check.Finish() != s.Header.HeaderCRC32 {
		if forceType {
			imgedit.ShowWarning("gpt: header crc32 mismatch")
		} else {
			return imgedit.ErrChecksumMismatch
		}
	}

	s.HeaderLBA = headerLBA
	entryBytes := make([]byte, int(s.Header.NumPartitionEntries)*int(s.Header.SizeofPartitionEntry))
	if _, err := fh.ReadAt(entryBytes, int64(s.Header.PartitionEntryLBA)*sectorSize); err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading gpt partition array: %s", imgedit.ErrIO, err.Error())
	}
	s.Entries = s.Entries[:0]
	for i := uint32(0); i < s.Header.NumPartitionEntries; i++ {
		off := int(i) * int(s.Header.SizeofPartitionEntry)
		if off+entrySize > len(entryBytes) {
			break
		}
		e := decodeEntry(entryBytes[off : off+entrySize])
		if e.StartLBA == 0 && e.EndLBA == 0 {
			continue
		}
		s.Entries = append(s.Entries, e)
	}

	table := &diskpart.Table{Type: diskpart.TypeGPT, Score: 100}
	for _, e := range s.Entries {
		table.Partitions = append(table.Partitions, diskpart.Partition{
			Name:      e.Name,
			StartAddr: int64(e.StartLBA) * sectorSize,
			EndAddr:   int64(e.EndLBA) * sectorSize,
		})
	}
	ctx.Partitions.Register(table)

	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	s := st.(*State)
	if err := reflectfmt.Print(os.Stdout, headerDescriptor(), &s.Header, "  %-28s: ", reflectfmt.ForceNone); err != nil {
		return err
	}
	fmt.Printf("  %-28s: %s\n", "DiskGUID", guidString(s.Header.DiskGUID))
	fmt.Printf("%-20s %-12s %-12s %-10s %s\n", "NAME", "START", "END", "SIZE(KiB)", "TYPE-GUID")
	for _, e := range s.Entries {
		sizeKiB := (e.EndLBA - e.StartLBA + 1) * sectorSize / 1024
		fmt.Printf("%-20s %-12d %-12d %-10d %s\n",
			e.Name, e.StartLBA, e.EndLBA, sizeKiB, guidString(e.TypeGUID))
	}
	return nil
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outDir string) error {
	s := st.(*State)
	for _, e := range s.Entries {
		name := sanitizeFilename(e.Name)
		outPath := filepath.Join(outDir, name+".bin")
		out, err := vfile.OpenForWrite(outPath)
		if err != nil {
			return err
		}
		length := (int64(e.EndLBA) - int64(e.StartLBA) + 1) * sectorSize
		_, err = vfile.DD(out, fh, int64(e.StartLBA)*sectorSize, length, 0, nil)
		out.Close()
		if err != nil {
			return fmt.Errorf("%w: unpacking partition %q: %s", imgedit.ErrIO, e.Name, err.Error())
		}
	}
	return writeLayoutJSON(s, filepath.Join(outDir, "gpt.json"))
}

func sanitizeFilename(s string) string {
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, s)
}

// writeLayoutJSON writes gpt.json: the header via the same Descriptor List
// prints from, plus a partitions array with every LBA/attribute field
// string-encoded so large values survive round-tripping through JSON
// consumers that parse numbers as float64.
func writeLayoutJSON(s *State, path string) error {
	headerRaw, err := reflectfmt.SaveJSON(headerDescriptor(), &s.Header, reflectfmt.ForceNone)
	if err != nil {
		return err
	}
	var header map[string]interface{}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return err
	}
	header["disk_guid"] = guidString(s.Header.DiskGUID)

	partitions := make([]map[string]interface{}, len(s.Entries))
	for i, e := range s.Entries {
		partitions[i] = map[string]interface{}{
			"name":       e.Name,
			"start_lba":  strconv.FormatUint(e.StartLBA, 10),
			"end_lba":    strconv.FormatUint(e.EndLBA, 10),
			"attributes": fmt.Sprintf("0x%016x", e.Attributes),
			"type_guid":  guidString(e.TypeGUID),
			"unique_guid": guidString(e.UniqueGUID),
		}
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"header":     header,
		"partitions": partitions,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	s := st.(*State)
	var last int64
	for _, e := range s.Entries {
		end := (int64(e.EndLBA) + 1) * sectorSize
		if end > last {
			last = end
		}
	}
	// account for the backup header + entry array mirrored at the end of disk
	backup := (int64(s.Header.AlternateLBA) + 1) * sectorSize
	if backup > last {
		last = backup
	}
	return last, nil
}
