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

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/imgeditor/imgeditor/internal/diskpart"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

const searchWindowSize = 4 << 20 // 4 MiB, large enough that no magic straddles two reads once overlapped
const searchOverlap = 1024       // re-read the trailing KiB of the previous window so a magic spanning the boundary is still found

// Found is one offset at which an editor's magic matched and Detect
// confirmed it, optionally annotated with the partition table entry
// that claims that offset.
type Found struct {
	Name      string
	Offset    int64
	TableType diskpart.TableType
	Partition diskpart.Partition
	HasPart   bool
}

// cursor tracks, per editor, the next absolute offset worth re-scanning
// — the Go analogue of imgmagic.next_search_offset, which lets overlapping
// 4 MiB reads skip re-matching a magic they've already reported.
type cursor struct {
	editor Editor
	magic  SearchMagic
	next   int64
	seen   bool
}

// Search implements spec §4.8: scan fh in overlapping 4 MiB windows,
// matching every registered editor's SearchMagic and confirming each hit
// with a real Detect call on a virtual sub-file, and return every
// confirmed hit sorted by offset.
func (c *Context) Search(fh *vfile.File) ([]Found, error) {
	var cursors []cursor
	for _, e := range c.registry.All() {
		sm := e.SearchMagic()
		if len(sm.Pattern) == 0 {
			continue
		}
		cursors = append(cursors, cursor{editor: e, magic: sm})
	}

	var all []Found
	buf := make([]byte, searchWindowSize)
	offset := int64(0)

	for {
		readAt := offset
		if readAt > searchOverlap {
			readAt -= searchOverlap
		} else {
			readAt = 0
		}

		n, _ := fh.ReadAt(buf, readAt)
		if n == 0 {
			break
		}

		found, err := c.searchWindow(fh, cursors, readAt, buf[:n])
		if err != nil {
			return nil, err
		}
		all = append(all, found...)

		offset = readAt + int64(n)
		if n < searchWindowSize {
			break
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })
	return all, nil
}

func (c *Context) searchWindow(fh *vfile.File, cursors []cursor, windowOffset int64, window []byte) ([]Found, error) {
	var found []Found

	for ready := true; ready; {
		ready = false

		for i := range cursors {
			cur := &cursors[i]

			var searchFrom int64
			if !cur.seen {
				searchFrom = 0
			} else {
				searchFrom = cur.next - windowOffset
			}
			if searchFrom < 0 || searchFrom >= int64(len(window)) {
				continue
			}

			idx := bytes.Index(window[searchFrom:], cur.magic.Pattern)
			if idx < 0 {
				// resume len(pattern)-1 bytes before the window end, so the
				// next (overlapping) window still sees a straddling magic
				next := windowOffset + int64(len(window)) - int64(len(cur.magic.Pattern)) + 1
				if from := windowOffset + searchFrom; next < from {
					next = from
				}
				cur.next = next
				cur.seen = true
				continue
			}

			ready = true
			magicFileOffset := windowOffset + searchFrom + int64(idx)
			cur.next = magicFileOffset + 1
			cur.seen = true
			imgOffset := magicFileOffset - int64(cur.magic.Offset)

			if imgOffset < 0 || imgOffset+cur.editor.HeaderSize() > fh.Filelength() {
				continue
			}

			sub, err := vfile.Dup(fh, imgOffset)
			if err != nil {
				return nil, fmt.Errorf("%w: dup for search hit at 0x%x: %s", ErrIO, imgOffset, err.Error())
			}

			det, ok := cur.editor.(Detector)
			if !ok {
				sub.Close()
				continue
			}
			st := cur.editor.NewState()
			// forceType is always true for a search-mode candidate (spec
			// §4.1/§4.4 step 5); inSearchMode=true is what keeps Detect's
			// diagnostics silent, not forceType=false.
			err = det.Detect(c, st, sub, true, true)
			sub.Close()
			if err != nil {
				continue
			}

			hit := Found{Name: cur.editor.Name(), Offset: imgOffset}
			if tt, part, ok := c.Partitions.Find(imgOffset); ok {
				hit.TableType, hit.Partition, hit.HasPart = tt, part, true
			}
			found = append(found, hit)
		}
	}

	return found, nil
}
