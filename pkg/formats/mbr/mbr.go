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

// Package mbr decodes the classic DOS/MBR partition table: a 440-byte
// boot code region, optional disk signature, four 16-byte dos_partition
// entries, and the 0x55 0xaa boot signature.
package mbr

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/imgeditor/imgeditor/internal/diskpart"
	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/reflectfmt"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	sectorSize   = 512
	tableOffset  = 446
	entrySize    = 16
	numEntries   = 4
	bootSigByte0 = 0x55
	bootSigByte1 = 0xaa
)

// Partition is one dos_partition entry.
type Partition struct {
	BootIndicator byte
	SysType       byte
	StartLBA      uint32
	SizeSectors   uint32
}

// partitionDescriptor drives List's per-entry dump.
func partitionDescriptor() *reflectfmt.Descriptor {
	return &reflectfmt.Descriptor{Fields: []reflectfmt.Field{
		{Name: "BootIndicator", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "SysType", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "StartLBA", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "SizeSectors", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
	}}
}

// State holds the decoded table.
type State struct {
	DiskSignature uint32
	Partitions    []Partition // only non-empty (sys_type != 0) entries
	Protective    bool        // sys_type 0xee: protective MBR, GPT follows
}

type editor struct{}

// Editor is the registrable mbr Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "mbr" }
func (*editor) Descriptor() string      { return "DOS/MBR partition table" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagMultiBin }
func (*editor) HeaderSize() int64       { return sectorSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: []byte{bootSigByte0, bootSigByte1}, Offset: sectorSize - 2}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, sectorSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading mbr sector: %s", imgedit.ErrIO, err.Error())
	}
	if buf[510] != bootSigByte0 || buf[511] != bootSigByte1 {
		return imgedit.ErrBadMagic
	}

	s.DiskSignature = binary.LittleEndian.Uint32(buf[440:444])
	s.Partitions = s.Partitions[:0]

	for i := 0; i < numEntries; i++ {
		e := buf[tableOffset+i*entrySize : tableOffset+(i+1)*entrySize]
		sysType := e[4]
		if sysType == 0 {
			continue
		}
		if sysType == 0xee {
			s.Protective = true
		}
		p := Partition{
			BootIndicator: e[0],
			SysType:       sysType,
			StartLBA:      binary.LittleEndian.Uint32(e[8:12]),
			SizeSectors:   binary.LittleEndian.Uint32(e[12:16]),
		}
		s.Partitions = append(s.Partitions, p)
	}

	if len(s.Partitions) == 0 {
		return imgedit.ErrBadMagic
	}

	table := &diskpart.Table{Type: diskpart.TypeMBR, Score: 10}
	for i, p := range s.Partitions {
		table.Partitions = append(table.Partitions, diskpart.Partition{
			Name:      fmt.Sprintf("part%d", i+1),
			StartAddr: int64(p.StartLBA) * sectorSize,
			EndAddr:   int64(p.StartLBA+p.SizeSectors) * sectorSize,
		})
	}
	ctx.Partitions.Register(table)

	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	s := st.(*State)
	fmt.Printf("disk signature: 0x%08x\n", s.DiskSignature)
	if s.Protective {
		fmt.Println("(protective MBR; see the gpt editor for the real table)")
	}
	for i, p := range s.Partitions {
		fmt.Printf("partition %d:\n", i+1)
		if err := reflectfmt.Print(os.Stdout, partitionDescriptor(), &p, "    %-16s: ", reflectfmt.ForceNone); err != nil {
			return err
		}
	}
	return nil
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outDir string) error {
	s := st.(*State)
	for i, p := range s.Partitions {
		outPath := fmt.Sprintf("%s/part%d.bin", outDir, i+1)
		out, err := vfile.OpenForWrite(outPath)
		if err != nil {
			return err
		}
		_, err = vfile.DD(out, fh, int64(p.StartLBA)*sectorSize, int64(p.SizeSectors)*sectorSize, 0, nil)
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	s := st.(*State)
	var last int64
	for _, p := range s.Partitions {
		end := int64(p.StartLBA+p.SizeSectors) * sectorSize
		if end > last {
			last = end
		}
	}
	return last, nil
}
