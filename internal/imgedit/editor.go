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

// Package imgedit implements the editor framework: the registry +
// dispatcher that owns the population of pluggable format editors, the
// shared per-run Context, and the plugin loader.
package imgedit

import "github.com/imgeditor/imgeditor/internal/vfile"

// Flags bits for Editor.Flags.
type Flags uint32

const (
	// FlagSingleBin marks an editor whose unpack writes a single output
	// file rather than a directory + ".imgeditor" marker.
	FlagSingleBin Flags = 1 << iota
	// FlagMultiBin marks an editor whose unpack writes a directory tree.
	// Mutually exclusive with FlagSingleBin; exactly one must be set.
	FlagMultiBin
	// FlagHideInfoWhenList suppresses the "name: descriptor" banner that
	// list() would otherwise print before the editor's own output.
	FlagHideInfoWhenList
)

// SearchMagic describes the byte pattern an editor's container begins
// with, used by the magic-search scanner (§4.4). An editor with a nil
// Pattern is excluded from search mode.
type SearchMagic struct {
	Pattern []byte
	// Offset is the byte offset inside the header where Pattern begins.
	Offset int
}

// Editor is the unit of pluggable behaviour described in spec §3.1. Every
// callback may be nil; the dispatcher skips absent ones (except Detect,
// which is mandatory for auto-detection to make sense).
type Editor interface {
	// Name is the unique short identifier, e.g. "gpt", "ext2".
	Name() string
	// Descriptor is the one-line human description shown by list().
	Descriptor() string
	// Flags returns this editor's behaviour bits.
	Flags() Flags
	// HeaderSize is the minimum input size below which Detect is skipped.
	HeaderSize() int64
	// SearchMagic returns the editor's magic pattern, or a nil Pattern if
	// this editor does not participate in search mode.
	SearchMagic() SearchMagic

	// NewState allocates this editor's private, per-dispatch state. Called
	// fresh before every Detect (real dispatch or search-mode probe); the
	// framework never reuses a State across dispatches.
	NewState() State
}

// State is an editor's private per-dispatch data. The concrete type is
// owned entirely by the editor; the framework only ever holds it behind
// this interface, mirroring "private_data" in spec §3.1 without requiring
// a fixed byte budget (Go already tracks allocations; there is no
// equivalent of private_data_size to declare up front).
type State interface{}

// Detector is implemented by editors that can recognize their container.
type Detector interface {
	// Detect reads from the current position of fh (the framework seeks
	// to the virtual file's start before calling) and populates st with
	// enough information for the later List/Unpack/Pack/Main call. If
	// forceType is false the editor is being probed during auto-detect and
	// should fail silently; if true (the user passed --type, or this is a
	// search-mode candidate) detect failures may be logged, UNLESS
	// inSearchMode is also true, in which case failures must stay silent.
	Detect(ctx *Context, st State, fh *vfile.File, forceType, inSearchMode bool) error
}

// Lister is implemented by editors that support the `list` command.
type Lister interface {
	List(ctx *Context, st State, fh *vfile.File) error
}

// Unpacker is implemented by editors that support `--unpack`. outPath is
// either a directory (multi-bin) or a file path (single-bin), per Flags().
type Unpacker interface {
	Unpack(ctx *Context, st State, fh *vfile.File, outPath string) error
}

// Packer is implemented by editors that support `--pack`, rebuilding a
// byte-compatible container from the directory Unpack produced.
type Packer interface {
	Pack(ctx *Context, st State, dir string, out *vfile.File) error
}

// TotalSizer is implemented by editors that support `--peek`; it reports
// the exact byte extent of the container starting at the current file
// position, without requiring a full Detect beforehand to already know it.
type TotalSizer interface {
	TotalSize(ctx *Context, st State, fh *vfile.File) (int64, error)
}

// MainRunner is implemented by editors exposing subcommands reached via
// `--type NAME -- SUBCOMMAND ...`, e.g. `gpt -- partitions out.bin "..."`.
type MainRunner interface {
	Main(ctx *Context, st State, args []string) error
}
