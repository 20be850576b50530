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

// Package vfile implements the virtual-file layer from spec §3.3/§4.3: it
// lets any editor treat a byte range inside a host file as if it were a
// standalone file, which is how nested containers (an eGON header embedded
// in an eMMC dump, a ramdisk embedded in a boot.img, ...) get handed to a
// nested Detect call without copying data.
package vfile

import (
	"fmt"
	"io"
	"os"
)

// File is a (fd, start, length) handle. A File with no backing slot (Start
// == 0 and Raw == true) is just a thin wrapper around a real *os.File; File
// obtained through Dup/Open from another File is "virtual" and clamps all
// access to [Start, Start+Length).
type File struct {
	f       *os.File
	start   int64
	length  int64
	pos     int64 // logical position, relative to start
	raw     bool  // true: f is owned by us and closing us closes it
	closeFn func() error
}

// Open opens path and returns a File windowed to [startOffset, EOF).
func Open(path string, startOffset int64) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newFromOS(f, startOffset, true)
}

// OpenForWrite creates (or truncates) path for `pack` output.
func OpenForWrite(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newFromOS(f, 0, true)
}

// FromOS wraps an already-open *os.File without taking ownership of
// closing the underlying fd beyond what Close() on the returned File does.
func FromOS(f *os.File, startOffset int64) (*File, error) {
	return newFromOS(f, startOffset, true)
}

func newFromOS(f *os.File, startOffset int64, owns bool) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	total := info.Size() - startOffset
	if total < 0 {
		total = 0
	}
	vf := &File{f: f, start: startOffset, length: total, raw: owns}
	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return vf, nil
}

// Dup duplicates ref's underlying descriptor and returns a new File whose
// window starts extraOffset bytes into ref's own window, with the
// remainder of ref's bytes visible (ref.Filestart()+extraOffset .. end).
func Dup(ref *File, extraOffset int64) (*File, error) {
	dupFd, err := dupOSFile(ref.f)
	if err != nil {
		return nil, err
	}
	newStart := ref.start + extraOffset
	remaining := ref.start + ref.length - newStart
	if remaining < 0 {
		remaining = 0
	}
	vf := &File{f: dupFd, start: newStart, length: remaining, raw: true}
	if _, err := dupFd.Seek(newStart, io.SeekStart); err != nil {
		dupFd.Close()
		return nil, err
	}
	return vf, nil
}

func dupOSFile(f *os.File) (*os.File, error) {
	fd, err := dupFd(f.Fd())
	if err != nil {
		return nil, err
	}
	return os.NewFile(fd, f.Name()), nil
}

// Close releases this handle. For a Dup'd or Open'd handle this closes the
// underlying real fd; for a handle obtained through FromOS it depends on
// whether the caller asked for ownership (always true today — see FromOS).
func (v *File) Close() error {
	if v.closeFn != nil {
		return v.closeFn()
	}
	if v.f == nil {
		return nil
	}
	err := v.f.Close()
	v.f = nil
	return err
}

// Filestart returns the start offset of this handle's window within the
// real underlying file (0 for a non-virtual handle).
func (v *File) Filestart() int64 { return v.start }

// Filelength returns the cached logical length of this handle's window.
func (v *File) Filelength() int64 { return v.length }

// Fileseek seeks to absolute position Filestart()+off within the window.
func (v *File) Fileseek(off int64) error {
	if off < 0 {
		return fmt.Errorf("vfile: negative seek offset %d", off)
	}
	v.pos = off
	_, err := v.f.Seek(v.start+off, io.SeekStart)
	return err
}

// Tell returns the current logical position (relative to Filestart()).
func (v *File) Tell() int64 { return v.pos }

// Fileread loops until len(buf) bytes are read or EOF/window-end, matching
// the "loops until n bytes are read or EOF" contract in spec §4.3. Returns
// the number of bytes actually read; io.EOF (possibly wrapped) once the
// window is exhausted and zero bytes could be produced.
func (v *File) Fileread(buf []byte) (int, error) {
	// clamp to the end of our window
	remaining := v.length - v.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	total := 0
	for total < len(buf) {
		n, err := v.f.Read(buf[total:])
		total += n
		v.pos += int64(n)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// ReadAt is the io.ReaderAt-shaped equivalent, used by the reflection layer
// and by format decoders that want random access without disturbing the
// sequential read position.
func (v *File) ReadAt(buf []byte, off int64) (int, error) {
	remaining := v.length - off
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	return v.f.ReadAt(buf, v.start+off)
}

// Write writes at the current logical position and advances it. Used by
// Pack() implementations writing to an output File.
func (v *File) Write(buf []byte) (int, error) {
	n, err := v.f.Write(buf)
	v.pos += int64(n)
	if v.pos > v.length {
		v.length = v.pos
	}
	return n, err
}

var _ io.ReaderAt = (*File)(nil)
