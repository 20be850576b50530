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
	"errors"
	"fmt"
)

// Error kinds named in the propagation policy: leaf primitives return one of
// these (wrapped with fmt.Errorf("%w: ...", ErrX) where more context helps),
// aggregating functions propagate verbatim, and only the top of each editor
// callback logs a single line.
var (
	ErrBadMagic        = errors.New("bad magic")
	ErrTruncated       = errors.New("truncated")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidField    = errors.New("invalid field")
	ErrAllocFailed     = errors.New("allocation failed")
	ErrIO              = errors.New("io error")
	ErrConfig          = errors.New("config error")
	ErrFormatLimit     = errors.New("format limit exceeded")
	ErrUnsupported     = errors.New("unsupported")
)

// ErrorCollector aggregates multiple validation errors for collective
// display, mirroring the teacher's errorcollector.go.
type ErrorCollector struct {
	Errors []error
}

// Add appends err if it is non-nil. Safe to call with the direct result of
// a fallible operation: ec.Add(doSomething()).
func (c *ErrorCollector) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

// Addf appends an error built from a format string.
func (c *ErrorCollector) Addf(format string, args ...interface{}) {
	if len(args) == 0 {
		c.Errors = append(c.Errors, errors.New(format))
		return
	}
	c.Errors = append(c.Errors, fmt.Errorf(format, args...))
}

// Ok reports whether no errors were collected.
func (c *ErrorCollector) Ok() bool {
	return len(c.Errors) == 0
}
