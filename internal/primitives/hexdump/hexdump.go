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

// Package hexdump prints a buffer in the classic `hexdump -C` 16-bytes-
// per-line layout, including the "*" collapse of repeated identical
// lines. No example in the corpus carries a hexdump-compatible library,
// and the format (address/hex/ASCII columns, run-length elision) is
// small and specific enough that hand-rolling it beats pulling in a
// generic diff/dump dependency.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
)

const perLine = 16

// Fprint writes sz bytes of buf to w, labeled starting at baseAddr. If
// indent is non-empty it is written before every line after the first
// (matching the original's indent_fmt, used to nest a dump inside a
// larger listing).
func Fprint(w io.Writer, buf []byte, baseAddr uint64, indent string) {
	var prevLine []byte
	skipping := false

	for i := 0; i < len(buf); i += perLine {
		end := i + perLine
		if end > len(buf) {
			end = len(buf)
		}
		line := buf[i:end]

		if i != 0 && len(line) == len(prevLine) && bytes.Equal(line, prevLine) {
			if !skipping {
				skipping = true
				if indent != "" {
					io.WriteString(w, indent)
				}
				fmt.Fprintln(w, "*")
			}
			continue
		}
		skipping = false
		if i != 0 && indent != "" {
			io.WriteString(w, indent)
		}

		fmt.Fprintf(w, "%08x ", baseAddr+uint64(i))
		for j := 0; j < perLine; j++ {
			if i+j < len(buf) {
				fmt.Fprintf(w, "%02x ", buf[i+j])
			} else {
				io.WriteString(w, "   ")
			}
		}
		io.WriteString(w, "|")
		for j := 0; j < perLine; j++ {
			if i+j >= len(buf) {
				io.WriteString(w, " ")
				continue
			}
			c := buf[i+j]
			if c >= 0x20 && c < 0x7f {
				w.Write([]byte{c})
			} else {
				io.WriteString(w, ".")
			}
		}
		io.WriteString(w, "|\n")

		prevLine = line
	}

	if indent != "" {
		io.WriteString(w, indent)
	}
	aligned := (len(buf) + perLine - 1) / perLine * perLine
	fmt.Fprintf(w, "%08x\n", baseAddr+uint64(aligned))
}

// String is a convenience wrapper around Fprint for callers that want a
// plain string (e.g. to feed into ErrorCollector diagnostics).
func String(buf []byte, baseAddr uint64) string {
	var b bytes.Buffer
	Fprint(&b, buf, baseAddr, "")
	return b.String()
}
