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

// Package fdt decodes a flattened device tree blob (dtb): the big-endian
// header from the devicetree spec, followed by a memory-reservation
// table and the struct/strings blocks. It is used both standalone and
// embedded inside other images (Allwinner's carboot.fex carries one).
package fdt

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	magic      = 0xd00dfeed
	headerSize = 40
	maxDtbSize = 64 << 20

	tagBeginNode = 0x1
	tagEndNode   = 0x2
	tagProp      = 0x3
	tagNop       = 0x4
	tagEnd       = 0x9
)

// Header is the fdt_header struct, decoded big-endian.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

func decodeHeader(b []byte) Header {
	be := binary.BigEndian
	return Header{
		Magic:           be.Uint32(b[0:4]),
		TotalSize:       be.Uint32(b[4:8]),
		OffDtStruct:     be.Uint32(b[8:12]),
		OffDtStrings:    be.Uint32(b[12:16]),
		OffMemRsvmap:    be.Uint32(b[16:20]),
		Version:         be.Uint32(b[20:24]),
		LastCompVersion: be.Uint32(b[24:28]),
		BootCPUIDPhys:   be.Uint32(b[28:32]),
		SizeDtStrings:   be.Uint32(b[32:36]),
		SizeDtStruct:    be.Uint32(b[36:40]),
	}
}

// State is the decoded image's working set.
type State struct {
	Header Header
}

type editor struct{}

// Editor is the registrable fdt Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "fdt" }
func (*editor) Descriptor() string      { return "flattened device tree blob" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return headerSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	pat := make([]byte, 4)
	binary.BigEndian.PutUint32(pat, magic)
	return imgedit.SearchMagic{Pattern: pat, Offset: 0}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, headerSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading fdt header: %s", imgedit.ErrIO, err.Error())
	}
	h := decodeHeader(buf)
	if h.Magic != magic {
		return imgedit.ErrBadMagic
	}
	if h.TotalSize == 0 || h.TotalSize > maxDtbSize {
		return fmt.Errorf("%w: fdt totalsize %d out of range", imgedit.ErrInvalidField, h.TotalSize)
	}

	s.Header = h
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	h := st.(*State).Header
	fmt.Printf("totalsize:        0x%x\n", h.TotalSize)
	fmt.Printf("off_dt_struct:    0x%x\n", h.OffDtStruct)
	fmt.Printf("off_dt_strings:   0x%x\n", h.OffDtStrings)
	fmt.Printf("off_mem_rsvmap:   0x%x\n", h.OffMemRsvmap)
	fmt.Printf("version:          %d\n", h.Version)
	fmt.Printf("last_comp_version: %d\n", h.LastCompVersion)
	fmt.Printf("boot_cpuid_phys:  0x%x\n", h.BootCPUIDPhys)
	fmt.Printf("size_dt_strings:  0x%x\n", h.SizeDtStrings)
	fmt.Printf("size_dt_struct:   0x%x\n", h.SizeDtStruct)
	return nil
}

// Decompile renders the struct/strings blocks as a dts-like text tree,
// the same shape `dtc -I dtb -O dts` produces, minus phandle resolution.
func Decompile(fh *vfile.File, h Header) (string, error) {
	strBuf := make([]byte, h.SizeDtStrings)
	if h.SizeDtStrings > 0 {
		if _, err := fh.ReadAt(strBuf, int64(h.OffDtStrings)); err != nil {
			return "", fmt.Errorf("%w: reading dt_strings: %s", imgedit.ErrIO, err.Error())
		}
	}
	structBuf := make([]byte, h.SizeDtStruct)
	if _, err := fh.ReadAt(structBuf, int64(h.OffDtStruct)); err != nil {
		return "", fmt.Errorf("%w: reading dt_struct: %s", imgedit.ErrIO, err.Error())
	}

	var out strings.Builder
	out.WriteString("/dts-v1/;\n\n")

	indent := 0
	pos := 0
	writeIndent := func() {
		for i := 0; i < indent; i++ {
			out.WriteString("\t")
		}
	}

	be := binary.BigEndian
	for pos+4 <= len(structBuf) {
		tag := be.Uint32(structBuf[pos:])
		pos += 4

		switch tag {
		case tagBeginNode:
			name := cString(structBuf[pos:])
			pos += align4(len(name) + 1)
			writeIndent()
			if name == "" {
				out.WriteString("/ {\n")
			} else {
				fmt.Fprintf(&out, "%s {\n", name)
			}
			indent++
		case tagEndNode:
			indent--
			writeIndent()
			out.WriteString("};\n")
		case tagProp:
			if pos+8 > len(structBuf) {
				return out.String(), fmt.Errorf("%w: truncated fdt property", imgedit.ErrTruncated)
			}
			length := be.Uint32(structBuf[pos:])
			nameoff := be.Uint32(structBuf[pos+4:])
			pos += 8
			data := structBuf[pos : pos+int(length)]
			pos += align4(int(length))

			name := cString(strBuf[nameoff:])
			writeIndent()
			fmt.Fprintf(&out, "%s%s;\n", name, formatPropValue(data))
		case tagNop:
		case tagEnd:
			goto done
		default:
			return out.String(), fmt.Errorf("%w: unknown fdt tag 0x%x", imgedit.ErrInvalidField, tag)
		}
	}
done:
	return out.String(), nil
}

func formatPropValue(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if isPrintableStrings(data) {
		return " = " + quoteStrings(data)
	}
	if len(data)%4 == 0 {
		var b strings.Builder
		b.WriteString(" = <")
		be := binary.BigEndian
		for i := 0; i < len(data); i += 4 {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "0x%08x", be.Uint32(data[i:]))
		}
		b.WriteString(">")
		return b.String()
	}
	var b strings.Builder
	b.WriteString(" = [")
	for i, v := range data {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	b.WriteString("]")
	return b.String()
}

func isPrintableStrings(data []byte) bool {
	if data[len(data)-1] != 0 {
		return false
	}
	for i, c := range data {
		if c == 0 {
			continue
		}
		if c < 0x20 || c > 0x7e {
			_ = i
			return false
		}
	}
	return true
}

func quoteStrings(data []byte) string {
	parts := strings.Split(string(data[:len(data)-1]), "\x00")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return strings.Join(quoted, ", ")
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	h := st.(*State).Header
	dts, err := Decompile(fh, h)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(dts), 0644)
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return int64(st.(*State).Header.TotalSize), nil
}
