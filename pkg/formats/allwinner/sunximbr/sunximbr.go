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

// Package sunximbr decodes Allwinner's legacy sunxi_mbr.fex: a 16KiB,
// CRC32-protected partition table ("softw411" magic) that predates GPT
// on older Allwinner SoCs, addressed in 512-byte sectors with 64-bit
// hi/lo split addr/len fields.
package sunximbr

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/reflectfmt"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	mbrSize      = 16 * 1024
	maxPartCount = 120
	partSize     = 128
	sectorSize   = 512
	headerFixed  = 4 + 4 + 8 + 4 + 4 + 4 + 4 // crc,version,magic,copy,index,part_counts,unused
)

var magic = [8]byte{'s', 'o', 'f', 't', 'w', '4', '1', '1'}

// Partition is one sunxi_mbr_partition entry.
type Partition struct {
	Addr      uint64 // sectors
	Len       uint64 // sectors
	ClassName string
	Name      string
	Type      uint32
	KeyData   uint32
	RO        uint32
}

// MBR is the decoded sunxi_mbr.
type MBR struct {
	Version     uint32
	Copy        uint32
	Index       uint32
	PartCounts  uint32
	Partitions  []Partition
}

func decode(buf []byte) (MBR, error) {
	le := binary.LittleEndian
	var m MBR

	m.Version = le.Uint32(buf[4:8])
	m.Copy = le.Uint32(buf[16:20])
	m.Index = le.Uint32(buf[20:24])
	m.PartCounts = le.Uint32(buf[24:28])

	if m.PartCounts > maxPartCount {
		return m, fmt.Errorf("%w: sunxi-mbr part_counts %d exceeds max", imgedit.ErrInvalidField, m.PartCounts)
	}

	off := headerFixed
	for i := uint32(0); i < m.PartCounts; i++ {
		p := buf[off : off+partSize]
		addrHi := le.Uint32(p[0:4])
		addrLo := le.Uint32(p[4:8])
		lenHi := le.Uint32(p[8:12])
		lenLo := le.Uint32(p[12:16])

		m.Partitions = append(m.Partitions, Partition{
			Addr:      uint64(addrHi)<<32 | uint64(addrLo),
			Len:       uint64(lenHi)<<32 | uint64(lenLo),
			ClassName: cString(p[16:32]),
			Name:      cString(p[32:48]),
			Type:      le.Uint32(p[48:52]),
			KeyData:   le.Uint32(p[52:56]),
			RO:        le.Uint32(p[56:60]),
		})
		off += partSize
	}
	return m, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// mbrDescriptor drives List's top-level fields; Partitions' ClassName/Name
// are already-decoded Go strings rather than raw byte arrays, so they
// print separately instead of through this descriptor.
func mbrDescriptor() *reflectfmt.Descriptor {
	return &reflectfmt.Descriptor{Fields: []reflectfmt.Field{
		{Name: "Version", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "Copy", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "Index", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "PartCounts", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
	}}
}

// State is the decoded image's working set.
type State struct {
	MBR MBR
}

type editor struct{}

// Editor is the registrable sunxi-mbr Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "sunxi-mbr" }
func (*editor) Descriptor() string      { return "allwinner sunxi_mbr/sunxi_dlinfo image editor" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return mbrSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: magic[:], Offset: 8}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, mbrSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading sunxi-mbr: %s", imgedit.ErrIO, err.Error())
	}

	var gotMagic [8]byte
	copy(gotMagic[:], buf[8:16])
	if gotMagic != magic {
		return imgedit.ErrBadMagic
	}

	got := binary.LittleEndian.Uint32(buf[0:4])
	want := crc.Checksum32(crc.CRC32ISOHDLC, buf[4:])
	if got != want {
		return imgedit.ErrChecksumMismatch
	}

	m, err := decode(buf)
	if err != nil {
		return err
	}
	s.MBR = m
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	m := st.(*State).MBR
	if err := reflectfmt.Print(os.Stdout, mbrDescriptor(), &m, "%-12s: ", reflectfmt.ForceNone); err != nil {
		return err
	}
	fmt.Println("Partitions:")
	for _, p := range m.Partitions {
		fmt.Printf("  %-16s addr=0x%x(sector) len=0x%x(sector) class=%q type=0x%x\n",
			p.Name, p.Addr, p.Len, p.ClassName, p.Type)
	}
	return nil
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = vfile.DD(out, fh, 0, mbrSize, 0, nil)
	return err
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return mbrSize, nil
}
