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
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/blakesmith/ar"
)

// PluginAPIVersion is bumped whenever the Editor/Context ABI changes in a
// way that would break out-of-tree plugins built against an older version.
const PluginAPIVersion = 1

// Descriptor is the symbol every imgeditor plugin must export under the
// name "ImgeditorPlugin":
//
//	var ImgeditorPlugin = imgedit.Descriptor{
//	        APIVersion: imgedit.PluginAPIVersion,
//	        Editors:    []imgedit.Editor{&myEditor{}},
//	}
type Descriptor struct {
	APIVersion int
	Editors    []Editor
}

// LoadedPlugin records the provenance of one successfully loaded plugin
// bundle, kept on the Context for `list-plugin` and diagnostics.
type LoadedPlugin struct {
	Path    string
	Editors []string
}

// LoadPluginFile opens a single `.so` built with `go build -buildmode=plugin`,
// verifies its Descriptor.APIVersion, and registers its editors into ctx.
func (c *Context) LoadPluginFile(path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening plugin %s: %s", ErrConfig, path, err.Error())
	}
	sym, err := p.Lookup("ImgeditorPlugin")
	if err != nil {
		return fmt.Errorf("%w: plugin %s does not export ImgeditorPlugin: %s", ErrConfig, path, err.Error())
	}
	desc, ok := sym.(*Descriptor)
	if !ok {
		return fmt.Errorf("%w: plugin %s exports ImgeditorPlugin with the wrong type", ErrConfig, path)
	}
	if desc.APIVersion != PluginAPIVersion {
		return fmt.Errorf("%w: plugin %s was built against API version %d, this binary is %d",
			ErrConfig, path, desc.APIVersion, PluginAPIVersion)
	}

	lp := &LoadedPlugin{Path: path}
	for _, e := range desc.Editors {
		c.registry.Register(e)
		lp.Editors = append(lp.Editors, e.Name())
	}
	c.plugins = append(c.plugins, lp)
	return nil
}

// LoadPluginDir walks dir recursively loading every `*.so` file found, in
// lexical order, per spec §6.5. Errors from individual plugins are
// collected rather than aborting the whole walk, since a single broken
// plugin should not prevent the rest from loading.
func (c *Context) LoadPluginDir(dir string) error {
	var paths []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(p, ".so") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Strings(paths)

	var ec ErrorCollector
	for _, p := range paths {
		if err := c.LoadPluginFile(p); err != nil {
			ec.Add(err)
		}
	}
	if !ec.Ok() {
		return ec.Errors[0]
	}
	return nil
}

// Plugins returns every plugin bundle successfully loaded into this
// Context so far, in load order.
func (c *Context) Plugins() []*LoadedPlugin {
	out := make([]*LoadedPlugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// ExtractPluginBundle unpacks a distributable plugin bundle — an `ar`
// archive (the same container format `.deb` packages use) holding a
// gzip-compressed tar of one or more `.so` files plus a manifest — into
// destDir, returning the paths of the `.so` files it wrote. This is the
// packaging scheme plugin authors use to ship a single-file bundle instead
// of a bare `.so` with an unpinned build environment.
func ExtractPluginBundle(bundlePath, destDir string) ([]string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := ar.NewReader(f)
	var written []string
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading bundle %s: %s", ErrConfig, bundlePath, err.Error())
		}
		if hdr.Name != "payload.tar.gz" {
			continue
		}

		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		tr := tar.NewReader(gz)
		for {
			thdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if !strings.HasSuffix(thdr.Name, ".so") {
				continue
			}
			outPath := filepath.Join(destDir, filepath.Base(thdr.Name))
			out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return nil, err
			}
			out.Close()
			written = append(written, outPath)
		}
	}
	if written == nil {
		return nil, fmt.Errorf("%w: bundle %s contains no payload.tar.gz with .so members", ErrConfig, bundlePath)
	}
	return written, nil
}
