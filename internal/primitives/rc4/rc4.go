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

// Package rc4 applies an RC4 keystream to a buffer in place; no format
// decoder in this module calls it. crypto/rc4 already implements the exact key-scheduling and
// PRGA loop the original hand-rolled rc4_encode used, so this package is
// a one-call adapter rather than a reimplementation.
package rc4

import "crypto/rc4"

// XOR XORs buf in place against the RC4 keystream derived from key,
// matching the original's symmetric rc4_encode (the same call encrypts
// and decrypts).
func XOR(buf []byte, key []byte) error {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return err
	}
	c.XORKeyStream(buf, buf)
	return nil
}
