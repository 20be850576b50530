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

// defaultEditors collects every statically-compiled editor's init()-time
// registration (one call to RegisterDefault per format package, the same
// way database/sql drivers register themselves). A freshly constructed
// Context seeds its own Registry from this list so that each CLI
// invocation gets an independent, side-effect-free set of editors to
// dispatch against.
var defaultEditors []Editor

// RegisterDefault is called from a format package's init() function, e.g.
//
//	var Editor = &editor{}
//
//	func init() { imgedit.RegisterDefault(Editor) }
//
// in pkg/formats/gpt.
func RegisterDefault(e Editor) {
	defaultEditors = append(defaultEditors, e)
}

// NewContextWithDefaults builds a Context pre-populated with every
// statically registered editor, in registration order.
func NewContextWithDefaults() *Context {
	ctx := NewContext()
	for _, e := range defaultEditors {
		ctx.registry.Register(e)
	}
	return ctx
}
