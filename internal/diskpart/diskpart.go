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

// Package diskpart implements the disk-partition registry from spec §3.6 /
// §4.7: a list of partition tables (GPT, MBR, or other) discovered while
// detecting a container, consulted only by search-mode's annotation pass.
package diskpart

// TableType identifies the kind of partition table a Table came from.
type TableType int

const (
	TypeOther TableType = iota
	TypeGPT
	TypeMBR
)

func (t TableType) String() string {
	switch t {
	case TypeGPT:
		return "gpt"
	case TypeMBR:
		return "mbr"
	default:
		return "other"
	}
}

// Partition is one entry of a Table.
type Partition struct {
	Name       string
	StartAddr  int64
	EndAddr    int64 // inclusive
}

// Table is one registered partition table. Score governs which table wins
// when more than one table's range claims the same offset (higher wins);
// this mirrors detection confidence (e.g. a GPT primary header always
// outscores the protective MBR covering the same disk).
type Table struct {
	Type       TableType
	Score      int
	Partitions []Partition
}

// Registry holds every Table registered during the current dispatch. It is
// cleared at the end of every dispatch (spec §4.1 step 7).
type Registry struct {
	tables []*Table
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a table to the registry.
func (r *Registry) Register(t *Table) {
	r.tables = append(r.tables, t)
}

// Clear empties the registry, called by the dispatcher after every command.
func (r *Registry) Clear() {
	r.tables = nil
}

// Find returns the highest-scoring table whose partition list contains a
// partition spanning offset, and that partition. Used solely by
// search-mode's annotation pass (spec §4.7).
func (r *Registry) Find(offset int64) (TableType, Partition, bool) {
	var (
		best      *Table
		bestPart  Partition
		bestScore = -1
	)
	for _, t := range r.tables {
		for _, p := range t.Partitions {
			if offset >= p.StartAddr && offset <= p.EndAddr && t.Score > bestScore {
				best, bestPart, bestScore = t, p, t.Score
			}
		}
	}
	if best == nil {
		return TypeOther, Partition{}, false
	}
	return best.Type, bestPart, true
}
