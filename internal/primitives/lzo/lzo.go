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

// Package lzo decompresses the LZO1X streams f2fs/squashfs/ubifs images
// may embed, via anchore/go-lzo rather than a hand-rolled decoder —
// LZO1X's match-copy state machine is exactly the kind of fiddly binary
// format logic a maintained library handles more reliably than a
// one-off port would.
package lzo

import (
	"bytes"
	"fmt"
	"io"

	golzo "github.com/anchore/go-lzo"
)

// Decompress1X inflates an LZO1X-compressed block of known compressed
// and uncompressed size, as found in f2fs/squashfs block headers.
func Decompress1X(compressed []byte, uncompressedSize int) ([]byte, error) {
	out, err := golzo.Decompress1X(bytes.NewReader(compressed), len(compressed), uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("lzo: decompress1x: %w", err)
	}
	return out, nil
}

// DecompressReader decompresses an LZO1X stream from r, stopping once
// uncompressedSize bytes have been produced.
func DecompressReader(r io.Reader, compressedSize, uncompressedSize int) ([]byte, error) {
	out, err := golzo.Decompress1X(r, compressedSize, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("lzo: decompress1x: %w", err)
	}
	return out, nil
}
