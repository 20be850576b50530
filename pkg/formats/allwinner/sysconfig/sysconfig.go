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

// Package sysconfig decodes and rebuilds Allwinner's compiled
// sys-config.fex: a binary section/property table produced from the
// board's sysconfig.fex INI source by the vendor SDK's fex2bin tool.
// unpack renders it back as INI text (section headers plus key=value
// properties); pack reads that same text with internal/iniconf and
// recompiles the binary table.
package sysconfig

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/iniconf"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	headSize        = 16
	sectionNameSz   = 32
	propertyNameSz  = 32
	sectionHdrSz    = sectionNameSz + 8
	propertyHdrSz   = propertyNameSz + 8
	maxSections     = 0x100
)

const (
	typeSingleWord = 1
	typeString     = 2
	typeMultiWord  = 3
	typeGPIO       = 4
	typeNull       = 5
)

// Property is one decoded syscfg_bin_property.
type Property struct {
	Name string
	Type int
	Data []byte
}

// Section is one decoded syscfg_bin_section.
type Section struct {
	Name       string
	Properties []Property
}

// Config is the decoded sys-config.fex binary.
type Config struct {
	VersionMajor uint32
	VersionMinor uint32
	Sections     []Section
}

func readPattern(p uint32) (typ, words uint32) {
	return (p >> 16) & 0xffff, p & 0xffff
}

func writePattern(typ, words uint32) uint32 {
	return (typ << 16) | words
}

func decode(mem []byte) (Config, error) {
	le := binary.LittleEndian
	var c Config

	sections := le.Uint32(mem[0:4])
	filesize := le.Uint32(mem[4:8])
	c.VersionMajor = le.Uint32(mem[8:12])
	c.VersionMinor = le.Uint32(mem[12:16])

	if c.VersionMajor > 0x10 || c.VersionMinor > 0x10 {
		return c, fmt.Errorf("%w: sys-config bad version %x-%x", imgedit.ErrInvalidField, c.VersionMajor, c.VersionMinor)
	}
	if sections > maxSections {
		return c, fmt.Errorf("%w: sys-config too many sections: %d", imgedit.ErrInvalidField, sections)
	}
	if int(filesize) != len(mem) {
		return c, fmt.Errorf("%w: sys-config filesize mismatch", imgedit.ErrInvalidField)
	}

	secOff := headSize
	for i := uint32(0); i < sections; i++ {
		sh := mem[secOff : secOff+sectionHdrSz]
		name := cString(sh[0:sectionNameSz])
		propCount := le.Uint32(sh[sectionNameSz : sectionNameSz+4])
		propOffsetWords := le.Uint32(sh[sectionNameSz+4 : sectionNameSz+8])
		propsOff := int(propOffsetWords) << 2

		sec := Section{Name: name}
		for j := uint32(0); j < propCount; j++ {
			ph := mem[propsOff+int(j)*propertyHdrSz : propsOff+(int(j)+1)*propertyHdrSz]
			pname := cString(ph[0:propertyNameSz])
			dataOffsetWords := le.Uint32(ph[propertyNameSz : propertyNameSz+4])
			pattern := le.Uint32(ph[propertyNameSz+4 : propertyNameSz+8])
			typ, words := readPattern(pattern)

			dataOff := int(dataOffsetWords) << 2
			dataLen := int(words) << 2
			var data []byte
			if dataLen > 0 && dataOff+dataLen <= len(mem) {
				data = append([]byte{}, mem[dataOff:dataOff+dataLen]...)
			}
			sec.Properties = append(sec.Properties, Property{Name: pname, Type: int(typ), Data: data})
		}
		c.Sections = append(c.Sections, sec)
		secOff += sectionHdrSz
	}
	return c, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// isHexProperty mirrors property_is_in_hexmode's allowlist of
// numeric properties that print in hex by vendor convention.
func isHexProperty(name string) bool {
	entries := []string{
		"dram_baseaddr", "dram_zq", "dram_tpr", "dram_emr",
		"g2d_size",
		"rtp_press_threshold", "rtp_sensitive_level",
		"ctp_twi_addr", "csi_twi_addr", "csi_twi_addr_b", "tkey_twi_addr",
		"lcd_gamma_tbl_",
		"gsensor_twi_addr",
	}
	for _, e := range entries {
		if name == e {
			return true
		}
		if strings.HasPrefix(name, e) && len(name) > len(e) {
			c := name[len(e)]
			if c >= '0' && c <= '9' {
				return true
			}
		}
	}
	return false
}

// Dump renders Config as INI text, matching syscfg_dump's output.
func Dump(w io.Writer, c Config) {
	le := binary.LittleEndian
	for _, sec := range c.Sections {
		fmt.Fprintf(w, "[%s]\n", sec.Name)
		for _, p := range sec.Properties {
			fmt.Fprintf(w, "%s =", p.Name)
			switch p.Type {
			case typeNull:
			case typeSingleWord:
				v := le.Uint32(p.Data)
				if isHexProperty(p.Name) {
					fmt.Fprintf(w, " 0x%x", v)
				} else {
					fmt.Fprintf(w, " %d", int32(v))
				}
			case typeString:
				fmt.Fprintf(w, " %q", cString(p.Data))
			case typeGPIO:
				port := le.Uint32(p.Data[0:4])
				num := le.Uint32(p.Data[4:8])
				if port == 0xffff {
					fmt.Fprintf(w, " port:power%d", num)
				} else {
					fmt.Fprintf(w, " port:P%c%02d", 'A'+byte(port)-1, num)
				}
				for i := 8; i+4 <= len(p.Data); i += 4 {
					n := int32(le.Uint32(p.Data[i : i+4]))
					if n < 0 {
						fmt.Fprintf(w, "<default>")
					} else {
						fmt.Fprintf(w, "<%d>", n)
					}
				}
			default:
				fmt.Fprintf(w, " ??")
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
}

// State is the decoded image's working set.
type State struct {
	Config Config
}

type editor struct{}

// Editor is the registrable sys-config Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "sunxi-sysconfig" }
func (*editor) Descriptor() string      { return "allwinner sys-config.fex image editor" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return headSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	// no fixed magic; sys-config is only ever selected with --type
	return imgedit.SearchMagic{}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	if !forceType {
		return imgedit.ErrUnsupported
	}
	s := st.(*State)

	mem := make([]byte, fh.Filelength())
	if _, err := fh.ReadAt(mem, 0); err != nil {
		return fmt.Errorf("%w: reading sys-config: %s", imgedit.ErrIO, err.Error())
	}
	if len(mem) <= headSize {
		return fmt.Errorf("%w: sys-config too small", imgedit.ErrTruncated)
	}

	c, err := decode(mem)
	if err != nil {
		return err
	}
	s.Config = c
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	Dump(os.Stdout, st.(*State).Config)
	return nil
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	var b strings.Builder
	Dump(&b, st.(*State).Config)
	return os.WriteFile(outPath, []byte(b.String()), 0644)
}

// Pack parses an INI-format sys-config text file with internal/iniconf
// and recompiles it to the binary section/property layout. Only the
// single-word, string, and null property shapes are recognized from
// text (gpio/multi-word properties require the vendor's typed .fex
// schema to disambiguate and are out of scope for text round-tripping);
// any other value shape makes Pack return imgedit.ErrUnsupported.
func (*editor) Pack(ctx *imgedit.Context, st imgedit.State, path string, out *vfile.File) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %s", imgedit.ErrConfig, path, err.Error())
	}
	defer f.Close()

	cfg, err := iniconf.Parse(f, nil)
	if err != nil {
		return fmt.Errorf("%w: parsing sys-config ini: %s", imgedit.ErrConfig, err.Error())
	}

	var sections []Section
	for _, sec := range cfg.Sections {
		out := Section{Name: sec.Name}
		for _, prop := range sec.Properties {
			if prop.Type == iniconf.TypeUnknown {
				return fmt.Errorf("%w: sys-config property %s.%s: only null, integer and quoted-string values can be packed", imgedit.ErrUnsupported, sec.Name, prop.Name)
			}
			out.Properties = append(out.Properties, toBinProperty(prop))
		}
		sections = append(sections, out)
	}

	blob := encode(Config{VersionMajor: 1, VersionMinor: 2, Sections: sections})
	_, err = out.Write(blob)
	return err
}

func toBinProperty(p iniconf.Property) Property {
	switch p.Type {
	case iniconf.TypeNull:
		return Property{Name: p.Name, Type: typeNull}
	case iniconf.TypeUlong:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(p.Ulong))
		return Property{Name: p.Name, Type: typeSingleWord, Data: data}
	default:
		data := append([]byte(p.String), 0)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
		return Property{Name: p.Name, Type: typeString, Data: data}
	}
}

// encode rebuilds the binary blob from scratch: header, section table,
// property tables, then the property data pool, each word-aligned as
// the decoder expects.
func encode(c Config) []byte {
	le := binary.LittleEndian

	secTableOff := headSize
	propTablesOff := secTableOff + len(c.Sections)*sectionHdrSz

	propOffsets := make([]int, len(c.Sections))
	dataOff := propTablesOff
	for i, sec := range c.Sections {
		propOffsets[i] = dataOff
		dataOff += len(sec.Properties) * propertyHdrSz
	}

	dataOffsets := make([][]int, len(c.Sections))
	for i, sec := range c.Sections {
		dataOffsets[i] = make([]int, len(sec.Properties))
		for j, p := range sec.Properties {
			dataOffsets[i][j] = dataOff
			dataOff += len(p.Data)
		}
	}

	buf := make([]byte, dataOff)
	le.PutUint32(buf[0:4], uint32(len(c.Sections)))
	le.PutUint32(buf[4:8], uint32(len(buf)))
	le.PutUint32(buf[8:12], c.VersionMajor)
	le.PutUint32(buf[12:16], c.VersionMinor)

	for i, sec := range c.Sections {
		sh := buf[secTableOff+i*sectionHdrSz:]
		copy(sh[0:sectionNameSz], sec.Name)
		le.PutUint32(sh[sectionNameSz:sectionNameSz+4], uint32(len(sec.Properties)))
		le.PutUint32(sh[sectionNameSz+4:sectionNameSz+8], uint32(propOffsets[i]>>2))

		for j, p := range sec.Properties {
			ph := buf[propOffsets[i]+j*propertyHdrSz:]
			copy(ph[0:propertyNameSz], p.Name)
			le.PutUint32(ph[propertyNameSz:propertyNameSz+4], uint32(dataOffsets[i][j]>>2))
			le.PutUint32(ph[propertyNameSz+4:propertyNameSz+8], writePattern(uint32(p.Type), uint32(len(p.Data)>>2)))

			copy(buf[dataOffsets[i][j]:], p.Data)
		}
	}
	return buf
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return fh.Filelength(), nil
}
