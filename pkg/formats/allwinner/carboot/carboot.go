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

// Package carboot decodes Allwinner's CarBoot image: a reverse-io gpio
// descriptor, the "CarBoot" header proper, an embedded fdt.dtb, and a
// trailing car.cfg text blob, all covered by the same running 32-bit
// word-sum checksum used by boot0 (§allwinner/egon).
package carboot

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	stampValue = 0x5F0A6C39
	maxLength  = 4 << 20

	gpioSetSize = 32 + 6*4
	headerSize  = gpioSetSize + 8 + 4*9 + 1
	magicOffset = gpioSetSize
)

var magic = [8]byte{'C', 'a', 'r', 'B', 'o', 'o', 't', 0}

// GPIOSet is the reverse_io user_gpio_set descriptor at the front of
// the image, used by u-boot-2014.07's sunxi gpio driver.
type GPIOSet struct {
	Name     [32]byte
	Port     int32
	PortNum  int32
	Mul      int32
	Pull     int32
	Driver   int32
	Data     int32
}

// Header is the carboot_head struct.
type Header struct {
	ReverseIO       GPIOSet
	Magic           [8]byte
	Sum             uint32
	Length          uint32
	KernelStart     uint32
	KernelPartStart uint32
	KernelPartSz    uint32
	FdtStart        uint32
	StartVerify     uint32
	FdtInfoSz       uint32
	CarCfgSz        uint32
	Used            uint8
}

func decodeGPIOSet(b []byte) GPIOSet {
	le := binary.LittleEndian
	var g GPIOSet
	copy(g.Name[:], b[0:32])
	g.Port = int32(le.Uint32(b[32:36]))
	g.PortNum = int32(le.Uint32(b[36:40]))
	g.Mul = int32(le.Uint32(b[40:44]))
	g.Pull = int32(le.Uint32(b[44:48]))
	g.Driver = int32(le.Uint32(b[48:52]))
	g.Data = int32(le.Uint32(b[52:56]))
	return g
}

func decodeHeader(b []byte) Header {
	le := binary.LittleEndian
	var h Header
	h.ReverseIO = decodeGPIOSet(b[0:gpioSetSize])
	off := gpioSetSize
	copy(h.Magic[:], b[off:off+8])
	off += 8
	h.Sum = le.Uint32(b[off:])
	off += 4
	h.Length = le.Uint32(b[off:])
	off += 4
	h.KernelStart = le.Uint32(b[off:])
	off += 4
	h.KernelPartStart = le.Uint32(b[off:])
	off += 4
	h.KernelPartSz = le.Uint32(b[off:])
	off += 4
	h.FdtStart = le.Uint32(b[off:])
	off += 4
	h.StartVerify = le.Uint32(b[off:])
	off += 4
	h.FdtInfoSz = le.Uint32(b[off:])
	off += 4
	h.CarCfgSz = le.Uint32(b[off:])
	off += 4
	h.Used = b[off]
	return h
}

// gpioString renders a user_gpio_set the way snprintf_user_gpio_set
// does: "port:PA03<default><default><default><default>".
func gpioString(g GPIOSet) string {
	prop := func(n int32) string {
		if n < 0 {
			return "<default>"
		}
		return fmt.Sprintf("<%d>", n)
	}
	return fmt.Sprintf("port:P%c%02d%s%s%s%s",
		'A'+byte(g.Port)-1, g.PortNum,
		prop(g.Mul), prop(g.Pull), prop(g.Driver), prop(g.Data))
}

func checksum32(seed uint32, buf []byte) uint32 {
	sum := seed
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += binary.LittleEndian.Uint32(buf[i:])
	}
	return sum
}

// State is the decoded image's working set.
type State struct {
	Header Header
}

type editor struct{}

// Editor is the registrable carboot Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "sunxi-carboot" }
func (*editor) Descriptor() string      { return "allwinner CarBoot image editor" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagMultiBin }
func (*editor) HeaderSize() int64       { return headerSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: magic[:], Offset: magicOffset}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, headerSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading carboot header: %s", imgedit.ErrIO, err.Error())
	}
	h := decodeHeader(buf)

	if h.Length > maxLength {
		return fmt.Errorf("%w: carboot length %d exceeds 4MiB", imgedit.ErrInvalidField, h.Length)
	}
	if h.Magic != magic {
		return imgedit.ErrBadMagic
	}

	full := make([]byte, h.Length)
	if _, err := fh.ReadAt(full, 0); err != nil {
		return fmt.Errorf("%w: reading carboot body: %s", imgedit.ErrIO, err.Error())
	}
	sum := checksum32(stampValue, full)
	sum -= h.Sum
	if sum != h.Sum {
		return imgedit.ErrChecksumMismatch
	}

	s.Header = h
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	h := st.(*State).Header
	fmt.Printf("reverse_io:         %s = %s\n", cString(h.ReverseIO.Name[:]), gpioString(h.ReverseIO))
	fmt.Printf("kernel_start:       0x%x\n", h.KernelStart)
	fmt.Printf("kernel_part_start:  0x%x\n", h.KernelPartStart)
	fmt.Printf("kernel_part_sz:     0x%x\n", h.KernelPartSz)
	fmt.Printf("fdt_start:          0x%x\n", h.FdtStart)
	fmt.Printf("car_cfg_sz:         0x%x\n", h.CarCfgSz)
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outDir string) error {
	h := st.(*State).Header

	dtbOut, err := vfile.OpenForWrite(filepath.Join(outDir, "fdt.dtb"))
	if err != nil {
		return err
	}
	_, err = vfile.DD(dtbOut, fh, headerSize, int64(h.FdtInfoSz), 0, nil)
	dtbOut.Close()
	if err != nil {
		return fmt.Errorf("%w: extracting fdt.dtb: %s", imgedit.ErrIO, err.Error())
	}

	if h.CarCfgSz > 0 {
		cfgOut, err := vfile.OpenForWrite(filepath.Join(outDir, "car.cfg"))
		if err != nil {
			return err
		}
		_, err = vfile.DD(cfgOut, fh, headerSize+int64(h.FdtInfoSz), int64(h.CarCfgSz), 0, nil)
		cfgOut.Close()
		if err != nil {
			return fmt.Errorf("%w: extracting car.cfg: %s", imgedit.ErrIO, err.Error())
		}
	}
	return nil
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return int64(st.(*State).Header.Length), nil
}
