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

package vfile

import "io"

// ScanFunc is invoked once per chunk copied by DD, after the chunk has been
// written to dst. It may inspect (but not retain) chunk.
type ScanFunc func(chunkOffset int64, chunk []byte) error

// DD copies length bytes starting at srcOffset in src to dst's current
// position, matching the original dd.c's "dd-style range copy with
// optional per-chunk scan callback". chunkSize <= 0 defaults to 1 MiB.
func DD(dst io.Writer, src *File, srcOffset, length int64, chunkSize int, scan ScanFunc) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	buf := make([]byte, chunkSize)

	var copied int64
	for copied < length {
		want := int64(chunkSize)
		if remaining := length - copied; remaining < want {
			want = remaining
		}
		n, err := src.ReadAt(buf[:want], srcOffset+copied)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return copied, werr
			}
			if scan != nil {
				if serr := scan(srcOffset+copied, buf[:n]); serr != nil {
					return copied, serr
				}
			}
			copied += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return copied, err
		}
		if n == 0 {
			break
		}
	}
	return copied, nil
}
