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

package imgedit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imgeditor/imgeditor/internal/vfile"
)

// Resolved pairs a selected Editor with the State its Detect call
// populated, ready for List/Unpack/Pack/Main.
type Resolved struct {
	Editor Editor
	State  State
}

// Resolve implements spec §4.1 step 4: if typeName is non-empty, look the
// editor up by name and force-detect it (diagnostics enabled on failure);
// otherwise iterate every registered editor in registration order and
// return the first whose Detect succeeds, probing silently.
//
// fh must be freshly seeked to its window start; Resolve reseeks between
// attempts so each editor's Detect sees a clean starting position.
func (c *Context) Resolve(fh *vfile.File, typeName string) (*Resolved, error) {
	if typeName != "" {
		e, ok := c.registry.ByName(typeName)
		if !ok {
			return nil, fmt.Errorf("%w: no such editor %q", ErrConfig, typeName)
		}
		return c.tryDetect(fh, e, true)
	}

	for _, e := range c.registry.All() {
		if fh.Filelength() < e.HeaderSize() {
			continue
		}
		r, err := c.tryDetect(fh, e, false)
		if err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: no editor recognized this input", ErrBadMagic)
}

func (c *Context) tryDetect(fh *vfile.File, e Editor, forceType bool) (*Resolved, error) {
	det, ok := e.(Detector)
	if !ok {
		if forceType {
			return nil, fmt.Errorf("%w: editor %q cannot detect", ErrUnsupported, e.Name())
		}
		return nil, ErrUnsupported
	}
	if err := fh.Fileseek(0); err != nil {
		return nil, err
	}
	st := e.NewState()
	err := det.Detect(c, st, fh, forceType, c.InSearchMode)
	if err != nil {
		if forceType && !c.InSearchMode {
			ShowError(fmt.Errorf("%s: %w", e.Name(), err))
		}
		return nil, err
	}
	return &Resolved{Editor: e, State: st}, nil
}

// RunList implements the `list` command.
func (c *Context) RunList(fh *vfile.File, typeName string) error {
	r, err := c.Resolve(fh, typeName)
	if err != nil {
		return err
	}
	lister, ok := r.Editor.(Lister)
	if !ok {
		return fmt.Errorf("%w: editor %q does not support list", ErrUnsupported, r.Editor.Name())
	}
	if r.Editor.Flags()&FlagHideInfoWhenList == 0 {
		fmt.Printf("%s: %s\n", r.Editor.Name(), r.Editor.Descriptor())
	}
	return lister.List(c, r.State, fh)
}

// RunUnpack implements the `--unpack` command. outPath is interpreted as a
// directory for multi-bin editors (created if absent) or a plain file path
// for single-bin editors.
func (c *Context) RunUnpack(fh *vfile.File, typeName, outPath string) error {
	r, err := c.Resolve(fh, typeName)
	if err != nil {
		return err
	}
	up, ok := r.Editor.(Unpacker)
	if !ok {
		return fmt.Errorf("%w: editor %q does not support unpack", ErrUnsupported, r.Editor.Name())
	}

	multiBin := r.Editor.Flags()&FlagMultiBin != 0
	if multiBin {
		if err := os.MkdirAll(outPath, 0755); err != nil {
			return err
		}
	}

	if err := up.Unpack(c, r.State, fh, outPath); err != nil {
		return err
	}

	if multiBin {
		marker := filepath.Join(outPath, ".imgeditor")
		if err := os.WriteFile(marker, []byte(r.Editor.Name()), 0644); err != nil {
			return err
		}
	}
	return nil
}

// DefaultUnpackPath returns "<input>.dump", used for single-bin and
// multi-bin editors alike when the user omits an explicit --unpack argument.
func DefaultUnpackPath(inputPath string) string {
	return inputPath + ".dump"
}

// RunPack implements the `--pack` command. If typeName is empty, the
// editor is inferred from the `.imgeditor` marker left by Unpack.
func (c *Context) RunPack(dir, typeName string, out *vfile.File) error {
	if typeName == "" {
		marker, err := os.ReadFile(filepath.Join(dir, ".imgeditor"))
		if err != nil {
			return fmt.Errorf("%w: cannot infer --type from %s/.imgeditor: %s", ErrConfig, dir, err.Error())
		}
		typeName = string(marker)
	}
	e, ok := c.registry.ByName(typeName)
	if !ok {
		return fmt.Errorf("%w: no such editor %q", ErrConfig, typeName)
	}
	packer, ok := e.(Packer)
	if !ok {
		return fmt.Errorf("%w: editor %q does not support pack", ErrUnsupported, e.Name())
	}
	st := e.NewState()
	return packer.Pack(c, st, dir, out)
}

// RunPeek implements the `--peek` command: resolve the editor, ask its
// TotalSize, and copy exactly that many bytes from fh to out.
func (c *Context) RunPeek(fh *vfile.File, typeName string, out *vfile.File) error {
	r, err := c.Resolve(fh, typeName)
	if err != nil {
		return err
	}
	sizer, ok := r.Editor.(TotalSizer)
	if !ok {
		return fmt.Errorf("%w: editor %q does not support peek", ErrUnsupported, r.Editor.Name())
	}
	size, err := sizer.TotalSize(c, r.State, fh)
	if err != nil {
		return err
	}
	_, err = vfile.DD(out, fh, 0, size, 0, nil)
	return err
}

// RunMain implements the `--type NAME -- SUBCOMMAND ...` command.
func (c *Context) RunMain(fh *vfile.File, typeName string, args []string) error {
	e, ok := c.registry.ByName(typeName)
	if !ok {
		return fmt.Errorf("%w: no such editor %q", ErrConfig, typeName)
	}
	mr, ok := e.(MainRunner)
	if !ok {
		return fmt.Errorf("%w: editor %q does not support a main subcommand", ErrUnsupported, e.Name())
	}
	st := e.NewState()
	if fh != nil {
		det, ok := e.(Detector)
		if ok {
			_ = det.Detect(c, st, fh, true, false)
		}
	}
	return mr.Main(c, st, args)
}
