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

import "github.com/imgeditor/imgeditor/internal/diskpart"

// Context is the shared, process-wide mutable state from spec §3.4/§9,
// threaded explicitly through every public API instead of living in a
// shared-memory region — the option the design notes recommend for new
// implementations ("thread an explicit Context handle through every public
// API; plugins receive it via their registration hook").
//
// A Context is not safe for concurrent use; spec §5 mandates a single
// synchronous main thread, and nothing here adds locking on top of that.
type Context struct {
	VerboseLevel int
	InSearchMode bool

	Partitions *diskpart.Registry

	registry *Registry
	plugins  []*LoadedPlugin
}

// NewContext creates an empty Context with a fresh registry and partition
// table, ready for editors to be registered into it.
func NewContext() *Context {
	return &Context{
		Partitions: diskpart.NewRegistry(),
		registry:   newRegistry(),
	}
}

// Registry exposes the editor registry owned by this Context.
func (c *Context) Registry() *Registry { return c.registry }
