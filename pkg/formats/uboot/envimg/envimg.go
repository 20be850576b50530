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

// Package envimg decodes and rebuilds a U-Boot environment image: a
// leading little-endian CRC32 of everything after it, then a run of
// NUL-terminated "key=value" strings ending in a double NUL. The
// redundant-env layout (a flag byte after the CRC) is not handled: the
// body is always taken to start right after the CRC, and State.HasPart
// and State.Part are never set.
//
// Unlike every other editor in this module, envimg has no fixed magic:
// the image is whatever size the board's env partition is. Detect only
// succeeds when forced (--type uboot-env), brute-forcing candidate sizes
// the same way the original's uenv_auto_detect_filesize did, by
// shrinking from the file length until the stored CRC32 matches.
package envimg

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const (
	minSize    = 2048
	maxSize    = 2 << 20
	betterStep = 128 << 10
)

const (
	PartMain = iota
	PartRedund
)

// State holds the detected environment size and whether a redundant-env
// partition-select byte follows the CRC.
type State struct {
	EnvSize  int64
	HasPart  bool
	Part     int
}

type editor struct{}

// Editor is the registrable uboot-env Editor.
var Editor = &editor{}

func init() {
	imgedit.RegisterDefault(Editor)
}

func (*editor) Name() string            { return "uboot-env" }
func (*editor) Descriptor() string      { return "U-Boot environment image" }
func (*editor) Flags() imgedit.Flags    { return imgedit.FlagSingleBin }
func (*editor) HeaderSize() int64       { return minSize }
func (*editor) NewState() imgedit.State { return &State{} }
func (*editor) SearchMagic() imgedit.SearchMagic {
	// no fixed magic: envimg is only ever selected with --type
	return imgedit.SearchMagic{}
}

func (*editor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	if !forceType {
		return imgedit.ErrUnsupported
	}
	s := st.(*State)

	sz := fh.Filelength()
	if sz >= maxSize {
		sz = maxSize
	} else {
		sz = alignUp(sz, betterStep)
	}

	hdr := make([]byte, 4)
	if _, err := fh.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("%w: reading env crc32: %s", imgedit.ErrIO, err.Error())
	}
	expected := binary.LittleEndian.Uint32(hdr)

	for sz > minSize {
		buf := make([]byte, sz-4)
		if _, err := fh.ReadAt(buf, 4); err != nil {
			return fmt.Errorf("%w: reading env body: %s", imgedit.ErrIO, err.Error())
		}
		if crc.Checksum32(crc.CRC32ISOHDLC, buf) == expected {
			s.EnvSize = sz
			return nil
		}
		if sz > betterStep {
			sz -= betterStep
		} else {
			sz /= 2
		}
	}
	return imgedit.ErrChecksumMismatch
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

func (*editor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	s := st.(*State)

	buf := make([]byte, s.EnvSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading env: %s", imgedit.ErrIO, err.Error())
	}
	body := buf[4:]

	fmt.Printf("#uEnv %d\n", s.EnvSize)
	for _, kv := range splitEnv(body) {
		fmt.Println(kv)
	}
	return nil
}

// splitEnv splits the NUL-separated "key=value" run, stopping at the
// first empty entry (the trailing double-NUL).
func splitEnv(body []byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(body); i++ {
		if body[i] == 0 {
			if i == start {
				break
			}
			out = append(out, string(body[start:i]))
			start = i + 1
		}
	}
	return out
}

func (*editor) Unpack(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, outPath string) error {
	s := st.(*State)

	buf := make([]byte, s.EnvSize)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading env: %s", imgedit.ErrIO, err.Error())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#uEnv %d\n", s.EnvSize)
	for _, kv := range splitEnv(buf[4:]) {
		b.WriteString(kv)
		b.WriteByte('\n')
	}
	return os.WriteFile(outPath, []byte(b.String()), 0644)
}

// Pack rebuilds a U-Boot env image of size envSize from a uEnv-format
// text file (the same "#uEnv SIZE" title line plus key=value lines
// Unpack produces), writing the CRC32 header and zero-padding the rest.
func (*editor) Pack(ctx *imgedit.Context, st imgedit.State, dir string, out *vfile.File) error {
	path := dir
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %s", imgedit.ErrConfig, path, err.Error())
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var envSize int64
	if scanner.Scan() {
		title := scanner.Text()
		if _, err := fmt.Sscanf(title, "#uEnv %d", &envSize); err != nil {
			return fmt.Errorf("%w: bad uEnv title %q", imgedit.ErrConfig, title)
		}
	}
	if envSize < minSize {
		return fmt.Errorf("%w: env size %d below minimum %d", imgedit.ErrInvalidField, envSize, minSize)
	}

	body := make([]byte, envSize-4)
	pos := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n := copy(body[pos:], line)
		pos += n + 1 // leave the NUL terminator
	}

	check := crc.Checksum32(crc.CRC32ISOHDLC, body)
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, check)

	if _, err := out.Write(hdr); err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}

func (*editor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return st.(*State).EnvSize, nil
}
