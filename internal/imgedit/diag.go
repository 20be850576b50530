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
	"fmt"
	"os"
)

// ShowError prints a fatal diagnostic line to stderr.
func ShowError(err error) {
	fmt.Fprintf(os.Stderr, "\x1b[31m\x1b[1m!!\x1b[0m %s\n", err.Error())
}

// ShowWarning prints a non-fatal diagnostic line to stderr.
func ShowWarning(msg string) {
	fmt.Fprintf(os.Stderr, "\x1b[33m\x1b[1m>>\x1b[0m %s\n", msg)
}

// Logf prints a diagnostic line only when the context's verbose level is at
// least `level`. Used by detect()/list()/etc implementations that want to
// explain themselves without cluttering the default output.
func (c *Context) Logf(level int, format string, args ...interface{}) {
	if c.VerboseLevel < level {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
