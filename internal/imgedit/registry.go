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

import "fmt"

// Registry holds the population of registered editors in registration
// order. Registration order is preserved by the auto-detect iterator
// (testable property §8.1).
type Registry struct {
	order []Editor
	byName map[string]Editor
}

func newRegistry() *Registry {
	return &Registry{byName: make(map[string]Editor)}
}

// Register adds e to the registry. Per spec §4.2, duplicate names silently
// shadow: the first registered editor of a given name wins lookups, but
// both remain in `order` so auto-detect still tries the later one too.
func (r *Registry) Register(e Editor) {
	mustFlags(e)
	r.order = append(r.order, e)
	if _, exists := r.byName[e.Name()]; !exists {
		r.byName[e.Name()] = e
	}
}

// ByName looks up an editor by its unique name. ok is false if no editor
// with that name was ever registered.
func (r *Registry) ByName(name string) (Editor, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// All returns every registered editor in registration order.
func (r *Registry) All() []Editor {
	out := make([]Editor, len(r.order))
	copy(out, r.order)
	return out
}

// mustFlags panics with a descriptive message if an editor declares neither
// or both of FlagSingleBin/FlagMultiBin; called once at registration time
// so format authors get immediate feedback instead of a confusing failure
// deep inside unpack().
func mustFlags(e Editor) {
	f := e.Flags()
	single := f&FlagSingleBin != 0
	multi := f&FlagMultiBin != 0
	if single == multi {
		panic(fmt.Sprintf("imgedit: editor %q must declare exactly one of FlagSingleBin, FlagMultiBin", e.Name()))
	}
}
