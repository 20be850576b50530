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

// Package egon decodes Allwinner's eGON boot0/boot1 header (the
// "eGON.BT0"/"eGON.BT1" magic u-boot-2014.07's SPL and boot1 stages are
// wrapped in), including its running 32-bit-word checksum.
package egon

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/reflectfmt"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	headerSize = 48
	stampValue = 0x5F0A6C39
)

// Header is the boot_header struct (u-boot-2014.07/sunxi_spl/boot0).
type Header struct {
	JumpInstruction uint32
	Magic           [8]byte
	Checksum        uint32
	Length          uint32
	ThisStructSize  uint32
	Version         uint32
	ReturnAddr      uint32
	GoAddr          uint32
	BootCPU         uint32
	Platform        [8]byte
}

func decodeHeader(b []byte) Header {
	le := binary.LittleEndian
	var h Header
	h.JumpInstruction = le.Uint32(b[0:4])
	copy(h.Magic[:], b[4:12])
	h.Checksum = le.Uint32(b[12:16])
	h.Length = le.Uint32(b[16:20])
	h.ThisStructSize = le.Uint32(b[20:24])
	h.Version = le.Uint32(b[24:28])
	h.ReturnAddr = le.Uint32(b[28:32])
	h.GoAddr = le.Uint32(b[32:36])
	h.BootCPU = le.Uint32(b[36:40])
	copy(h.Platform[:], b[40:48])
	return h
}

func encodeHeader(h Header) []byte {
	le := binary.LittleEndian
	b := make([]byte, headerSize)
	le.PutUint32(b[0:4], h.JumpInstruction)
	copy(b[4:12], h.Magic[:])
	le.PutUint32(b[12:16], h.Checksum)
	le.PutUint32(b[16:20], h.Length)
	le.PutUint32(b[20:24], h.ThisStructSize)
	le.PutUint32(b[24:28], h.Version)
	le.PutUint32(b[28:32], h.ReturnAddr)
	le.PutUint32(b[32:36], h.GoAddr)
	le.PutUint32(b[36:40], h.BootCPU)
	copy(b[40:48], h.Platform[:])
	return b
}

// Checksum32 runs the boot0 "sum of u32 words" accumulator used both to
// verify and to (re)stamp an eGON image: start from stampValue, add
// every little-endian uint32 word of buf (buf's length must be a
// multiple of 4; a short final word is ignored exactly as the original
// C loop's buster_sz/sizeof(uint32_t) truncation does).
func Checksum32(seed uint32, buf []byte) uint32 {
	sum := seed
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += binary.LittleEndian.Uint32(buf[i:])
	}
	return sum
}

// headerDescriptor drives List's header dump.
func headerDescriptor() *reflectfmt.Descriptor {
	return &reflectfmt.Descriptor{Fields: []reflectfmt.Field{
		{Name: "JumpInstruction", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "Magic", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindString},
		{Name: "Checksum", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "Length", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "ThisStructSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "Version", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "ReturnAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "GoAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "BootCPU", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "Platform", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindString},
	}}
}

// State is the decoded image's working set.
type State struct {
	Header Header
}

type editor struct{}

// Editor is the registrable eGON Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "egon" }
func (*editor) Descriptor() string      { return "Allwinner eGON boot0/boot1 image" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return headerSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: []byte("eGON.BT0"), Offset: 4}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, headerSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading egon header: %s", imgedit.ErrIO, err.Error())
	}
	h := decodeHeader(buf)

	if string(h.Magic[:5]) != "eGON." {
		return imgedit.ErrBadMagic
	}
	if h.ThisStructSize != headerSize {
		return fmt.Errorf("%w: egon this_struct_size mismatch", imgedit.ErrInvalidField)
	}

	full := make([]byte, h.Length)
	if _, err := fh.ReadAt(full, 0); err != nil {
		return fmt.Errorf("%w: reading egon image body: %s", imgedit.ErrIO, err.Error())
	}
	// the checksum field itself reads as stampValue during verification
	binary.LittleEndian.PutUint32(full[12:16], stampValue)
	sum := Checksum32(stampValue, full)
	if sum != h.Checksum {
		return imgedit.ErrChecksumMismatch
	}

	s.Header = h
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	h := st.(*State).Header
	return reflectfmt.Print(os.Stdout, headerDescriptor(), &h, "%-16s: ", reflectfmt.ForceNone)
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	h := st.(*State).Header
	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = vfile.DD(out, fh, 0, int64(h.Length), 0, nil)
	return err
}

// Pack restamps a raw boot0 binary: buf's existing header is taken as
// the template (jump_instruction/version/addrs/platform preserved) and
// only length and checksum are recomputed against the file's actual
// size, matching eGON_pack's "calc checksum and write head" step.
func (*editor) Pack(ctx *imgedit.Context, st imgedit.State, dir string, out *vfile.File) error {
	in, err := vfile.Open(dir, 0)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %s", imgedit.ErrConfig, dir, err.Error())
	}
	defer in.Close()

	buf := make([]byte, in.Filelength())
	if _, err := in.ReadAt(buf, 0); err != nil {
		return err
	}
	if len(buf) < headerSize {
		return fmt.Errorf("%w: egon source too small for header", imgedit.ErrTruncated)
	}

	h := decodeHeader(buf)
	h.Length = uint32(len(buf))
	h.ThisStructSize = headerSize
	h.Checksum = stampValue

	reencoded := encodeHeader(h)
	copy(buf[:headerSize], reencoded)

	sum := Checksum32(stampValue, buf)
	h.Checksum = sum
	copy(buf[:headerSize], encodeHeader(h))

	_, err = out.Write(buf)
	return err
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return int64(st.(*State).Header.Length), nil
}
