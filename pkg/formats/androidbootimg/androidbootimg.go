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

// Package androidbootimg decodes and repacks Android's boot.img: a
// page-aligned header followed by kernel/ramdisk/second-stage/recovery
// DTBO/DTB blobs, each padded up to the header's declared page size.
package androidbootimg

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/hashfam"
	"github.com/imgeditor/imgeditor/internal/reflectfmt"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	magic     = "ANDROID!"
	magicSize = 8
	nameSize  = 16
	argsSize  = 512
	extraSize = 1024
	hdrV0Size = magicSize + 4*8 + 4*3 + nameSize + argsSize + 8*4 + extraSize
)

// Header is the decoded boot.img header, versions 0 through 2.
type Header struct {
	KernelSize   uint32
	KernelAddr   uint32
	RamdiskSize  uint32
	RamdiskAddr  uint32
	SecondSize   uint32
	SecondAddr   uint32
	TagsAddr     uint32
	PageSize     uint32
	HeaderVer    uint32
	OSVersion    uint32
	Name         string
	Cmdline      string
	ExtraCmdline string

	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32

	DtbSize uint32
	DtbAddr uint64
}

func decodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < hdrV0Size {
		return h, fmt.Errorf("%w: android boot header truncated", imgedit.ErrTruncated)
	}
	off := magicSize
	h.KernelSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.KernelAddr = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.RamdiskSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.RamdiskAddr = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.SecondSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.SecondAddr = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.TagsAddr = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.PageSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.HeaderVer = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.OSVersion = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.Name = cString(b[off : off+nameSize])
	off += nameSize
	h.Cmdline = cString(b[off : off+argsSize])
	off += argsSize
	off += 8 * 4 // id[8]
	h.ExtraCmdline = cString(b[off : off+extraSize])
	off += extraSize

	if h.HeaderVer >= 1 && len(b) >= off+12 {
		h.RecoveryDtboSize = binary.LittleEndian.Uint32(b[off:])
		off += 4
		h.RecoveryDtboOffset = binary.LittleEndian.Uint64(b[off:])
		off += 8
		h.HeaderSize = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	if h.HeaderVer >= 2 && len(b) >= off+12 {
		h.DtbSize = binary.LittleEndian.Uint32(b[off:])
		off += 4
		h.DtbAddr = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}

	return h, nil
}

func cString(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) / align * align
}

// headerDescriptor covers the on-wire numeric fields of Header — the
// id/name/cmdline fields are handled separately since reflectfmt's Kind
// table expects raw byte arrays, not the already-decoded Go strings
// decodeHeader produces.
func headerDescriptor() *reflectfmt.Descriptor {
	return &reflectfmt.Descriptor{Fields: []reflectfmt.Field{
		{Name: "KernelSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "KernelAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "RamdiskSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "RamdiskAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "SecondSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "SecondAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "TagsAddr", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "PageSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "HeaderVer", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "OSVersion", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindHex},
		{Name: "RecoveryDtboSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "HeaderSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
		{Name: "DtbSize", Order: reflectfmt.LittleEndian, Kind: reflectfmt.KindUnsigned},
	}}
}

// encodeHeader serializes h back into the wire layout decodeHeader reads,
// writing exactly as many trailing fields as h.HeaderVer calls for. id is
// the 32-byte id slot (the sha1 digest from hashfam, zero-padded).
func encodeHeader(h Header, id [32]byte) []byte {
	size := hdrV0Size
	if h.HeaderVer >= 1 {
		size += 12
	}
	if h.HeaderVer >= 2 {
		size += 12
	}
	b := make([]byte, size)
	le := binary.LittleEndian

	copy(b[0:magicSize], magic)
	off := magicSize
	le.PutUint32(b[off:], h.KernelSize)
	off += 4
	le.PutUint32(b[off:], h.KernelAddr)
	off += 4
	le.PutUint32(b[off:], h.RamdiskSize)
	off += 4
	le.PutUint32(b[off:], h.RamdiskAddr)
	off += 4
	le.PutUint32(b[off:], h.SecondSize)
	off += 4
	le.PutUint32(b[off:], h.SecondAddr)
	off += 4
	le.PutUint32(b[off:], h.TagsAddr)
	off += 4
	le.PutUint32(b[off:], h.PageSize)
	off += 4
	le.PutUint32(b[off:], h.HeaderVer)
	off += 4
	le.PutUint32(b[off:], h.OSVersion)
	off += 4
	copy(b[off:off+nameSize], h.Name)
	off += nameSize
	copy(b[off:off+argsSize], h.Cmdline)
	off += argsSize
	copy(b[off:off+32], id[:])
	off += 32
	copy(b[off:off+extraSize], h.ExtraCmdline)
	off += extraSize

	if h.HeaderVer >= 1 {
		le.PutUint32(b[off:], h.RecoveryDtboSize)
		off += 4
		le.PutUint64(b[off:], h.RecoveryDtboOffset)
		off += 8
		le.PutUint32(b[off:], h.HeaderSize)
		off += 4
	}
	if h.HeaderVer >= 2 {
		le.PutUint32(b[off:], h.DtbSize)
		off += 4
		le.PutUint64(b[off:], h.DtbAddr)
		off += 8
	}
	return b
}

func padTo(b []byte, align uint32) []byte {
	n := alignUp(uint32(len(b)), align)
	out := make([]byte, n)
	copy(out, b)
	return out
}

// State is the decoded image's working set.
type State struct {
	Header Header
}

type editor struct{}

// Editor is the registrable androidbootimg Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "android-bootimg" }
func (*editor) Descriptor() string      { return "Android boot.img" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagMultiBin }
func (*editor) HeaderSize() int64       { return hdrV0Size }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: []byte(magic), Offset: 0}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, hdrV0Size+32)
	n, _ := fh.ReadAt(buf, 0)
	buf = buf[:n]
	if n < magicSize || string(buf[:magicSize]) != magic {
		return imgedit.ErrBadMagic
	}

	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if h.PageSize == 0 {
		return fmt.Errorf("%w: android boot header has zero page_size", imgedit.ErrInvalidField)
	}
	s.Header = h
	return nil
}

type segment struct {
	name string
	size uint32
}

func (h *Header) segments() []segment {
	segs := []segment{
		{"kernel", h.KernelSize},
		{"ramdisk", h.RamdiskSize},
		{"second", h.SecondSize},
	}
	if h.HeaderVer >= 1 {
		segs = append(segs, segment{"recovery_dtbo", h.RecoveryDtboSize})
	}
	if h.HeaderVer >= 2 {
		segs = append(segs, segment{"dtb", h.DtbSize})
	}
	return segs
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	h := st.(*State).Header
	fmt.Printf("name:    %q\n", h.Name)
	fmt.Printf("cmdline: %q\n", h.Cmdline)
	if err := reflectfmt.Print(os.Stdout, headerDescriptor(), &h, "  %-20s: ", reflectfmt.ForceNone); err != nil {
		return err
	}
	for _, seg := range h.segments() {
		fmt.Printf("%-14s %d bytes\n", seg.name+":", seg.size)
	}
	return nil
}

// Unpack writes each present segment as "<name>.bin" plus an abootimg.json
// sidecar (the header's reflectfmt-encoded fields, name/cmdline/extra
// cmdline, and a hashfam SHA-1 id over the segment bytes) so Pack can
// rebuild a byte-compatible image from the same directory.
func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outDir string) error {
	h := st.(*State).Header

	pos := int64(alignUp(hdrV0Size, h.PageSize))
	if h.HeaderSize != 0 {
		pos = int64(alignUp(h.HeaderSize, h.PageSize))
	}

	hasher := hashfam.NewSHA1()
	for _, seg := range h.segments() {
		if seg.size > 0 {
			buf := make([]byte, seg.size)
			if _, err := fh.ReadAt(buf, pos); err != nil {
				return fmt.Errorf("%w: unpacking %s: %s", imgedit.ErrIO, seg.name, err.Error())
			}
			hasher.Update(buf)
			if err := os.WriteFile(filepath.Join(outDir, seg.name+".bin"), buf, 0644); err != nil {
				return err
			}
		}
		pos += int64(alignUp(seg.size, h.PageSize))
	}

	headerJSON, err := reflectfmt.SaveJSON(headerDescriptor(), &h, reflectfmt.ForceNone)
	if err != nil {
		return err
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(headerJSON, &meta); err != nil {
		return err
	}
	meta["name"] = h.Name
	meta["cmdline"] = h.Cmdline
	meta["extra_cmdline"] = h.ExtraCmdline
	meta["id"] = hex.EncodeToString(hasher.Finish())

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "abootimg.json"), out, 0644)
}

// Pack rebuilds a v0/v1/v2 boot.img from the directory Unpack produced,
// recomputing the page-aligned layout and the SHA-1 id from kernel.bin/
// ramdisk.bin plus whichever optional segments are present.
func (*editor) Pack(ctx *imgedit.Context, st imgedit.State, dir string, out *vfile.File) error {
	metaPath := filepath.Join(dir, "abootimg.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %s", imgedit.ErrConfig, metaPath, err.Error())
	}

	var h Header
	if err := reflectfmt.LoadJSON(headerDescriptor(), raw, &h); err != nil {
		return fmt.Errorf("%w: parsing %s: %s", imgedit.ErrConfig, metaPath, err.Error())
	}
	var extra struct {
		Name         string `json:"name"`
		Cmdline      string `json:"cmdline"`
		ExtraCmdline string `json:"extra_cmdline"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return fmt.Errorf("%w: parsing %s: %s", imgedit.ErrConfig, metaPath, err.Error())
	}
	h.Name, h.Cmdline, h.ExtraCmdline = extra.Name, extra.Cmdline, extra.ExtraCmdline

	if h.PageSize == 0 {
		return fmt.Errorf("%w: abootimg.json missing page_size", imgedit.ErrInvalidField)
	}

	kernel, err := os.ReadFile(filepath.Join(dir, "kernel.bin"))
	if err != nil {
		return fmt.Errorf("%w: reading kernel.bin: %s", imgedit.ErrConfig, err.Error())
	}
	ramdisk, err := os.ReadFile(filepath.Join(dir, "ramdisk.bin"))
	if err != nil {
		return fmt.Errorf("%w: reading ramdisk.bin: %s", imgedit.ErrConfig, err.Error())
	}
	h.KernelSize = uint32(len(kernel))
	h.RamdiskSize = uint32(len(ramdisk))

	hasher := hashfam.NewSHA1()
	hasher.Update(kernel)
	hasher.Update(ramdisk)
	segments := [][]byte{kernel, ramdisk}

	if second, err := os.ReadFile(filepath.Join(dir, "second.bin")); err == nil {
		h.SecondSize = uint32(len(second))
		hasher.Update(second)
		segments = append(segments, second)
	}
	if h.HeaderVer >= 1 {
		h.HeaderSize = hdrV0Size + 12
		if dtbo, err := os.ReadFile(filepath.Join(dir, "recovery_dtbo.bin")); err == nil {
			h.RecoveryDtboSize = uint32(len(dtbo))
			hasher.Update(dtbo)
			segments = append(segments, dtbo)
		}
	}
	if h.HeaderVer >= 2 {
		h.HeaderSize = hdrV0Size + 24
		if dtb, err := os.ReadFile(filepath.Join(dir, "dtb.bin")); err == nil {
			h.DtbSize = uint32(len(dtb))
			hasher.Update(dtb)
			segments = append(segments, dtb)
		}
	}

	var id [32]byte
	copy(id[:], hasher.Finish())

	if _, err := out.Write(padTo(encodeHeader(h, id), h.PageSize)); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := out.Write(padTo(seg, h.PageSize)); err != nil {
			return err
		}
	}
	return nil
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	h := st.(*State).Header
	pos := int64(alignUp(hdrV0Size, h.PageSize))
	for _, seg := range h.segments() {
		pos += int64(alignUp(seg.size, h.PageSize))
	}
	return pos, nil
}
