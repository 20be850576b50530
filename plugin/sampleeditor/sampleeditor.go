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

// Package main is a sample out-of-tree imgeditor plugin, built with:
//
//	go build -buildmode=plugin -o sampleeditor.so ./plugin/sampleeditor
//
// It registers one toy editor, "sample-magic", that recognizes any file
// starting with the four bytes "SMPL" and lists its total length. It
// exists only to exercise the plugin ABI end to end, not as a real format.
package main

import (
	"fmt"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const magic = "SMPL"

type state struct {
	length int64
}

type sampleEditor struct{}

func (*sampleEditor) Name() string       { return "sample-magic" }
func (*sampleEditor) Descriptor() string { return "sample out-of-tree plugin editor" }
func (*sampleEditor) Flags() imgedit.Flags {
	return imgedit.FlagSingleBin
}
func (*sampleEditor) HeaderSize() int64       { return int64(len(magic)) }
func (*sampleEditor) NewState() imgedit.State { return &state{} }
func (*sampleEditor) SearchMagic() imgedit.SearchMagic {
	return imgedit.SearchMagic{Pattern: []byte(magic), Offset: 0}
}

func (*sampleEditor) Detect(ctx *imgedit.Context, st imgedit.State, fh *vfile.File, forceType, inSearchMode bool) error {
	buf := make([]byte, len(magic))
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: %s", imgedit.ErrIO, err.Error())
	}
	if string(buf) != magic {
		return imgedit.ErrBadMagic
	}
	st.(*state).length = fh.Filelength()
	return nil
}

func (*sampleEditor) List(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) error {
	fmt.Printf("sample-magic: %d bytes\n", st.(*state).length)
	return nil
}

func (*sampleEditor) TotalSize(ctx *imgedit.Context, st imgedit.State, fh *vfile.File) (int64, error) {
	return st.(*state).length, nil
}

// ImgeditorPlugin is the symbol the host binary looks up via plugin.Lookup.
var ImgeditorPlugin = imgedit.Descriptor{
	APIVersion: imgedit.PluginAPIVersion,
	Editors:    []imgedit.Editor{&sampleEditor{}},
}
