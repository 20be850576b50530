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

// Package androidsparse unsparses Android's sparse image format: a file
// header followed by RAW/FILL/DONT_CARE/CRC32 chunks that expand into a
// flat image of total_blks*blk_sz bytes.
package androidsparse

import (
	"encoding/binary"
	"fmt"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	headerMagic  = 0xed26ff3a
	headerSize   = 28
	chunkHdrSize = 12

	chunkRaw      = 0xCAC1
	chunkFill     = 0xCAC2
	chunkDontCare = 0xCAC3
	chunkCRC32    = 0xCAC4
)

// Header is the sparse file header.
type Header struct {
	MajorVersion uint16
	MinorVersion uint16
	FileHdrSize  uint16
	ChunkHdrSize uint16
	BlockSize    uint32
	TotalBlocks  uint32
	TotalChunks  uint32
	ImageCRC32   uint32
}

// State holds the decoded header; chunks are walked lazily during
// Unpack/TotalSize rather than buffered up front.
type State struct {
	Header Header
}

type editor struct{}

// Editor is the registrable androidsparse Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "android-sparse" }
func (*editor) Descriptor() string      { return "Android sparse image" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return headerSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	pat := make([]byte, 4)
	binary.LittleEndian.PutUint32(pat, headerMagic)
	return imgedit.SearchMagic{Pattern: pat, Offset: 0}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	s := st.(*State)

	buf := make([]byte, headerSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading sparse header: %s", imgedit.ErrIO, err.Error())
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return imgedit.ErrBadMagic
	}

	h := Header{
		MajorVersion: binary.LittleEndian.Uint16(buf[4:6]),
		MinorVersion: binary.LittleEndian.Uint16(buf[6:8]),
		FileHdrSize:  binary.LittleEndian.Uint16(buf[8:10]),
		ChunkHdrSize: binary.LittleEndian.Uint16(buf[10:12]),
		BlockSize:    binary.LittleEndian.Uint32(buf[12:16]),
		TotalBlocks:  binary.LittleEndian.Uint32(buf[16:20]),
		TotalChunks:  binary.LittleEndian.Uint32(buf[20:24]),
		ImageCRC32:   binary.LittleEndian.Uint32(buf[24:28]),
	}
	if h.MajorVersion != 1 {
		return fmt.Errorf("%w: sparse image major version %d unsupported", imgedit.ErrUnsupported, h.MajorVersion)
	}
	if h.FileHdrSize != headerSize {
		return fmt.Errorf("%w: sparse file_hdr_sz mismatch", imgedit.ErrInvalidField)
	}

	s.Header = h
	return nil
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	h := st.(*State).Header
	fmt.Printf("version:      %d.%d\n", h.MajorVersion, h.MinorVersion)
	fmt.Printf("block_size:   %d\n", h.BlockSize)
	fmt.Printf("total_blocks: %d\n", h.TotalBlocks)
	fmt.Printf("total_chunks: %d\n", h.TotalChunks)
	fmt.Printf("image_size:   %d bytes\n", int64(h.BlockSize)*int64(h.TotalBlocks))
	return nil
}

// unsparse walks every chunk, invoking write for each span of output
// bytes it produces. write receives the logical output offset, matching
// vfile.ScanFunc's shape so callers can feed it straight to an output
// vfile or to a running CRC32.
func unsparse(fh *vfile.File, h Header, write func(outOffset int64, data []byte) error) error {
	pos := int64(h.FileHdrSize)
	outOffset := int64(0)
	blockSize := int64(h.BlockSize)

	hdrBuf := make([]byte, chunkHdrSize)
	for i := uint32(0); i < h.TotalChunks; i++ {
		if _, err := fh.ReadAt(hdrBuf, pos); err != nil {
			return fmt.Errorf("%w: reading chunk %d header: %s", imgedit.ErrIO, i, err.Error())
		}
		chunkType := binary.LittleEndian.Uint16(hdrBuf[0:2])
		chunkBlocks := binary.LittleEndian.Uint32(hdrBuf[4:8])
		totalSz := binary.LittleEndian.Uint32(hdrBuf[8:12])
		dataSz := int64(totalSz) - chunkHdrSize
		dataPos := pos + chunkHdrSize
		outSz := int64(chunkBlocks) * blockSize

		switch chunkType {
		case chunkRaw:
			buf := make([]byte, outSz)
			if _, err := fh.ReadAt(buf, dataPos); err != nil {
				return fmt.Errorf("%w: reading raw chunk %d: %s", imgedit.ErrIO, i, err.Error())
			}
			if err := write(outOffset, buf); err != nil {
				return err
			}
		case chunkFill:
			fillBuf := make([]byte, 4)
			if _, err := fh.ReadAt(fillBuf, dataPos); err != nil {
				return fmt.Errorf("%w: reading fill chunk %d: %s", imgedit.ErrIO, i, err.Error())
			}
			out := make([]byte, outSz)
			for j := int64(0); j < outSz; j += 4 {
				copy(out[j:], fillBuf)
			}
			if err := write(outOffset, out); err != nil {
				return err
			}
		case chunkDontCare:
			// the output region is left as whatever the destination
			// already contains (conventionally zero)
		case chunkCRC32:
			// carries no output data; its checksum is skipped, not verified
		default:
			return fmt.Errorf("%w: unknown sparse chunk type 0x%04x", imgedit.ErrInvalidField, chunkType)
		}

		pos += int64(totalSz)
		outOffset += outSz
		_ = dataSz
	}
	return nil
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	h := st.(*State).Header

	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	check := crc.NewCRC32(crc.CRC32ISOHDLC)
	err = unsparse(fh, h, func(outOffset int64, data []byte) error {
		if err := out.Fileseek(outOffset); err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		check.Update(data)
		return nil
	})
	if err != nil {
		return err
	}

	if h.ImageCRC32 != 0 && check.Finish() != h.ImageCRC32 {
		imgedit.ShowWarning("android-sparse: unsparsed image crc32 does not match header")
	}
	return nil
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	h := st.(*State).Header
	pos := int64(h.FileHdrSize)
	hdrBuf := make([]byte, chunkHdrSize)
	for i := uint32(0); i < h.TotalChunks; i++ {
		if _, err := fh.ReadAt(hdrBuf, pos); err != nil {
			return 0, err
		}
		totalSz := binary.LittleEndian.Uint32(hdrBuf[8:12])
		pos += int64(totalSz)
	}
	return pos, nil
}
