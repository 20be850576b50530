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

// Package bitmask tracks which bytes of an image have been claimed by a
// recognized sub-structure, the same bookkeeping the C `struct bitmask`
// gave ext2/f2fs/ubi block-allocation walkers. It is a thin, fixed-size
// wrapper over bits-and-blooms/bitset that adds the next-one/next-zero
// and run-iteration operations those walkers depend on.
package bitmask

import "github.com/bits-and-blooms/bitset"

// Mask is a fixed-length bit vector, indexed 0..Len()-1.
type Mask struct {
	bits *bitset.BitSet
	len  uint
}

// New allocates a Mask of totalBits bits, all initially zero.
func New(totalBits uint) *Mask {
	return &Mask{bits: bitset.New(totalBits), len: totalBits}
}

// Len returns the number of addressable bits.
func (m *Mask) Len() uint { return m.len }

// Set sets bit i to 1. It panics if i is out of range, matching the
// original's bound check turned into a programmer error in Go.
func (m *Mask) Set(i uint) {
	m.mustInRange(i)
	m.bits.Set(i)
}

// Clear sets bit i to 0.
func (m *Mask) Clear(i uint) {
	m.mustInRange(i)
	m.bits.Clear(i)
}

// Write sets bit i to 1 if v is true, 0 otherwise.
func (m *Mask) Write(i uint, v bool) {
	if v {
		m.Set(i)
	} else {
		m.Clear(i)
	}
}

// SetRange sets [from, from+n) to 1.
func (m *Mask) SetRange(from, n uint) {
	for i := uint(0); i < n; i++ {
		m.Set(from + i)
	}
}

// Get reports whether bit i is set.
func (m *Mask) Get(i uint) bool {
	m.mustInRange(i)
	return m.bits.Test(i)
}

// Not flips every bit in place.
func (m *Mask) Not() {
	for i := uint(0); i < m.len; i++ {
		m.Write(i, !m.Get(i))
	}
}

// NextOne returns the index of the first set bit at or after from, or -1
// if none remain.
func (m *Mask) NextOne(from uint) int {
	if from >= m.len {
		return -1
	}
	idx, ok := m.bits.NextSet(from)
	if !ok || idx >= m.len {
		return -1
	}
	return int(idx)
}

// NextZero returns the index of the first clear bit at or after from, or
// -1 if none remain.
func (m *Mask) NextZero(from uint) int {
	if from >= m.len {
		return -1
	}
	idx, ok := m.bits.NextClear(from)
	if !ok || idx >= m.len {
		return -1
	}
	return int(idx)
}

// Run describes one maximal run of set bits: [Start, Start+Bits).
type Run struct {
	Start int
	Bits  int
}

// Runs walks the mask and returns every maximal run of consecutive set
// bits, in ascending order — the Go replacement for the C original's
// bitmask_continue_iterator, which a caller drove one step at a time.
func (m *Mask) Runs() []Run {
	var runs []Run
	pos := uint(0)
	for {
		start := m.NextOne(pos)
		if start < 0 {
			break
		}
		end := uint(start) + 1
		for end < m.len && m.Get(end) {
			end++
		}
		runs = append(runs, Run{Start: start, Bits: int(end) - start})
		pos = end
	}
	return runs
}

// Xor returns a new Mask holding a^b. a and b must have equal Len.
func Xor(a, b *Mask) *Mask {
	if a.len != b.len {
		panic("bitmask: Xor of masks with different lengths")
	}
	out := New(a.len)
	out.bits = a.bits.Clone()
	out.bits.InPlaceSymmetricDifference(b.bits)
	return out
}

func (m *Mask) mustInRange(i uint) {
	if i >= m.len {
		panic("bitmask: index out of range")
	}
}
