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

// Package reflectfmt is the Go reincarnation of the C `structure_item`
// table: one declarative slice of Field descriptors drives three
// operations — human-readable Print, SaveJSON, LoadJSON — over a single
// packed struct, instead of writing three near-duplicate walks of the
// same field list by hand.
//
// The C original keys each Field by byte offset/size into raw struct
// memory (offsetof/sizeof). Go has neither, so a Field is keyed by
// exported field name and walked with reflect instead; the struct whose
// Descriptor is built still has to be written field-by-field in wire
// order, the same discipline offsetof enforced in C.
package reflectfmt

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/imgeditor/imgeditor/internal/primitives/hexdump"
)

// ByteOrder selects how a Field's underlying integer bytes are
// interpreted before being formatted.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// Forced overrides every Field's declared ByteOrder for the duration of
// one call. Unlike the C original's process-wide forced_endian global,
// this is passed explicitly to Print so concurrent or nested calls never
// interfere with each other. SaveJSON accepts a Forced argument but encodes
// the declared values unchanged; LoadJSON takes none.
type Forced int

const (
	ForceNone Forced = iota
	ForceLE
	ForceBE
)

func (o ByteOrder) resolve(f Forced) ByteOrder {
	switch f {
	case ForceLE:
		return LittleEndian
	case ForceBE:
		return BigEndian
	default:
		return o
	}
}

// Kind selects which of the built-in printers/(un)marshalers formats a
// Field's value.
type Kind int

const (
	KindUnsigned Kind = iota
	KindHex
	KindBitFlags
	KindEnum
	KindByteArray // fixed-size []byte, printed as hex bytes
	KindHexArray  // []uint16 or []uint32, each element in hex
	KindUintArray // []uint16 or []uint32, each element in decimal
	KindString    // NUL-terminated / fixed-size byte array treated as text
	KindUnixEpoch // uint32 seconds since epoch, printed as RFC3339
	KindRaw       // opaque bytes, hex-dumped, never round-tripped through JSON
)

// BitDescriptor names one flag bit (for KindBitFlags) or one enum value
// (for KindEnum).
type BitDescriptor struct {
	Value uint64
	Name  string
}

// Field is one row of a Descriptor's table, the Go analogue of one
// STRUCTURE_ITEM() entry.
type Field struct {
	// Name must match an exported field of the struct this Descriptor
	// is built against.
	Name  string
	Order ByteOrder
	Kind  Kind

	// Bits is consulted by KindBitFlags (every matching bit is OR'd into
	// the printed set) and KindEnum (the single matching value names the
	// field).
	Bits []BitDescriptor
	// Shift and Mask apply before KindEnum matches against Bits.
	Shift uint
	Mask  uint64

	// NoJSON excludes this field from SaveJSON/LoadJSON (the C
	// original's STRUCTURE_FLAG_NOT_SAVE), e.g. reserved/padding fields.
	NoJSON bool
}

// Descriptor is an ordered field table, reused across Print, SaveJSON
// and LoadJSON calls against any value of the struct type it was built
// for.
type Descriptor struct {
	Fields []Field
}

func fieldValue(rv reflect.Value, name string) (reflect.Value, error) {
	fv := rv.FieldByName(name)
	if !fv.IsValid() {
		return reflect.Value{}, fmt.Errorf("reflectfmt: no field %q in %s", name, rv.Type())
	}
	return fv, nil
}

func asUint64(fv reflect.Value) uint64 {
	switch fv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return fv.Uint()
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return uint64(fv.Int())
	default:
		return 0
	}
}

func byteWidth(fv reflect.Value) int {
	switch fv.Kind() {
	case reflect.Uint8, reflect.Int8:
		return 1
	case reflect.Uint16, reflect.Int16:
		return 2
	case reflect.Uint32, reflect.Int32:
		return 4
	case reflect.Uint64, reflect.Int64:
		return 8
	default:
		return 8
	}
}

// Print writes one line per field to w, in the style `name: value`. The
// nameFmt (e.g. "  %-24s: ") is applied to every field name, matching
// the C original's structure_print_name print_name_fmt parameter.
func Print(w io.Writer, d *Descriptor, v interface{}, nameFmt string, forced Forced) error {
	rv := reflect.Indirect(reflect.ValueOf(v))
	for _, f := range d.Fields {
		fv, err := fieldValue(rv, f.Name)
		if err != nil {
			return err
		}
		order := f.Order.resolve(forced)
		fmt.Fprintf(w, nameFmt, f.Name)
		if err := printOne(w, f, fv, order); err != nil {
			return err
		}
	}
	return nil
}

// swapBytes reverses the low width bytes of v, the Go-side equivalent of
// re-reading the same wire bytes with the opposite ByteOrder.
func swapBytes(v uint64, width int) uint64 {
	var out uint64
	for i := 0; i < width; i++ {
		out = out<<8 | (v & 0xff)
		v >>= 8
	}
	return out
}

// reorder applies swapBytes only when the resolved order differs from the
// Field's declared wire order, which is what makes Forced actually take
// effect instead of being a documented no-op.
func reorder(f Field, fv reflect.Value, order ByteOrder) uint64 {
	n := asUint64(fv)
	if order != f.Order {
		n = swapBytes(n, byteWidth(fv))
	}
	return n
}

func printOne(w io.Writer, f Field, fv reflect.Value, order ByteOrder) error {
	switch f.Kind {
	case KindUnsigned:
		fmt.Fprintf(w, "%d\n", reorder(f, fv, order))
	case KindHex:
		n := reorder(f, fv, order)
		fmt.Fprintf(w, "0x%0*x\n", byteWidth(fv)*2, n)
	case KindBitFlags:
		n := reorder(f, fv, order)
		var names []string
		for _, b := range f.Bits {
			if n&b.Value == b.Value && b.Value != 0 {
				names = append(names, b.Name)
			}
		}
		fmt.Fprintf(w, "0x%0*x (%s)\n", byteWidth(fv)*2, n, strings.Join(names, " "))
	case KindEnum:
		raw := reorder(f, fv, order)
		n := raw >> f.Shift
		if f.Mask != 0 {
			n &= f.Mask
		}
		name := "unknown"
		for _, b := range f.Bits {
			if b.Value == n {
				name = b.Name
				break
			}
		}
		fmt.Fprintf(w, "%d (%s)\n", raw, name)
	case KindByteArray:
		fmt.Fprintf(w, "%x\n", fv.Bytes())
	case KindHexArray:
		fmt.Fprintln(w, hexJoin(numericSlice(fv, order != f.Order)))
	case KindUintArray:
		fmt.Fprintln(w, decJoin(numericSlice(fv, order != f.Order)))
	case KindString:
		fmt.Fprintf(w, "%q\n", cString(fv))
	case KindUnixEpoch:
		t := time.Unix(int64(reorder(f, fv, order)), 0).UTC()
		fmt.Fprintln(w, t.Format(time.RFC3339))
	case KindRaw:
		hexdump.Fprint(w, fv.Bytes(), 0, "    ")
	default:
		return fmt.Errorf("reflectfmt: field %q has unknown Kind %d", f.Name, f.Kind)
	}
	return nil
}

// numericSlice reads every element of a []uint16/[]uint32 field, swapping
// each element's bytes when swap is set (elements, not the whole slice,
// are the unit Forced reorders).
func numericSlice(fv reflect.Value, swap bool) []uint64 {
	elemWidth := int(fv.Type().Elem().Size())
	out := make([]uint64, fv.Len())
	for i := range out {
		n := asUint64(fv.Index(i))
		if swap {
			n = swapBytes(n, elemWidth)
		}
		out[i] = n
	}
	return out
}

func hexJoin(vals []uint64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("0x%x", v)
	}
	return strings.Join(parts, " ")
}

func decJoin(vals []uint64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, " ")
}

func cString(fv reflect.Value) string {
	b := fv.Bytes()
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
