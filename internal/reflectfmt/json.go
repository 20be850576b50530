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

package reflectfmt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SaveJSON builds one JSON object out of v's fields, following the same
// field table Print uses. Fields with NoJSON set (reserved/padding) and
// KindRaw fields are skipped, matching STRUCTURE_FLAG_NOT_SAVE.
func SaveJSON(d *Descriptor, v interface{}, forced Forced) ([]byte, error) {
	obj := make(map[string]interface{}, len(d.Fields))
	rv := reflect.Indirect(reflect.ValueOf(v))

	for _, f := range d.Fields {
		if f.NoJSON || f.Kind == KindRaw {
			continue
		}
		fv, err := fieldValue(rv, f.Name)
		if err != nil {
			return nil, err
		}
		val, err := jsonValue(f, fv)
		if err != nil {
			return nil, err
		}
		obj[f.Name] = val
	}
	return json.MarshalIndent(obj, "", "  ")
}

// jsonValue encodes KindUnsigned/KindHex/KindBitFlags/KindHexArray/
// KindUintArray as JSON strings rather than numbers: encoding/json renders
// a Go uint64 as a float64-compatible number literal, which silently loses
// precision above 2^53. A string round-trips exactly through any JSON
// consumer, Go or otherwise.
func jsonValue(f Field, fv reflect.Value) (interface{}, error) {
	switch f.Kind {
	case KindUnsigned:
		return strconv.FormatUint(asUint64(fv), 10), nil
	case KindHex, KindBitFlags:
		return fmt.Sprintf("0x%0*x", byteWidth(fv)*2, asUint64(fv)), nil
	case KindEnum:
		n := asUint64(fv) >> f.Shift
		if f.Mask != 0 {
			n &= f.Mask
		}
		return n, nil
	case KindByteArray:
		return fmt.Sprintf("%x", fv.Bytes()), nil
	case KindHexArray:
		return hexStrings(fv), nil
	case KindUintArray:
		return decStrings(fv), nil
	case KindString:
		return cString(fv), nil
	case KindUnixEpoch:
		return asUint64(fv), nil
	default:
		return nil, fmt.Errorf("reflectfmt: field %q has unsupported Kind %d for JSON", f.Name, f.Kind)
	}
}

func hexStrings(fv reflect.Value) []string {
	elemWidth := int(fv.Type().Elem().Size())
	out := make([]string, fv.Len())
	for i := range out {
		out[i] = fmt.Sprintf("0x%0*x", elemWidth*2, asUint64(fv.Index(i)))
	}
	return out
}

func decStrings(fv reflect.Value) []string {
	out := make([]string, fv.Len())
	for i := range out {
		out[i] = strconv.FormatUint(asUint64(fv.Index(i)), 10)
	}
	return out
}

// LoadJSON parses a JSON object previously produced by SaveJSON (or
// hand-edited, per the pack workflow) and writes each named field back
// into v, which must be a pointer to the struct the Descriptor was built
// for.
func LoadJSON(d *Descriptor, raw []byte, v interface{}) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("reflectfmt: invalid json: %w", err)
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	for _, f := range d.Fields {
		if f.NoJSON || f.Kind == KindRaw {
			continue
		}
		raw, ok := obj[f.Name]
		if !ok {
			continue
		}
		fv, err := fieldValue(rv, f.Name)
		if err != nil {
			return err
		}
		if err := loadOne(f, fv, raw); err != nil {
			return fmt.Errorf("reflectfmt: field %q: %w", f.Name, err)
		}
	}
	return nil
}

func loadOne(f Field, fv reflect.Value, raw json.RawMessage) error {
	switch f.Kind {
	case KindUnsigned:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned string %q: %w", s, err)
		}
		return setUintField(fv, n)
	case KindHex, KindBitFlags:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("invalid hex string %q: %w", s, err)
		}
		return setUintField(fv, n)
	case KindEnum, KindUnixEpoch:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		return setUintField(fv, n)
	case KindByteArray:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		b, err := hexDecode(s)
		if err != nil {
			return err
		}
		reflect.Copy(fv, reflect.ValueOf(b))
	case KindHexArray:
		var strs []string
		if err := json.Unmarshal(raw, &strs); err != nil {
			return err
		}
		for i := 0; i < fv.Len() && i < len(strs); i++ {
			n, err := strconv.ParseUint(strings.TrimPrefix(strs[i], "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("invalid hex array element %q: %w", strs[i], err)
			}
			fv.Index(i).SetUint(n)
		}
	case KindUintArray:
		var strs []string
		if err := json.Unmarshal(raw, &strs); err != nil {
			return err
		}
		for i := 0; i < fv.Len() && i < len(strs); i++ {
			n, err := strconv.ParseUint(strs[i], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid uint array element %q: %w", strs[i], err)
			}
			fv.Index(i).SetUint(n)
		}
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		b := []byte(s)
		if len(b) > fv.Len() {
			b = b[:fv.Len()]
		}
		reflect.Copy(fv, reflect.ValueOf(b))
	default:
		return fmt.Errorf("unsupported Kind %d", f.Kind)
	}
	return nil
}

func setUintField(fv reflect.Value, n uint64) error {
	switch fv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		fv.SetUint(n)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		fv.SetInt(int64(n))
	default:
		return fmt.Errorf("unexpected kind %s", fv.Kind())
	}
	return nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
