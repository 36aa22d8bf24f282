// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package csvout

import "strconv"

// formatFloat7 renders f with exactly seven decimal places, matching
// the "%.7f" format used throughout fl_logic.c's sprintf calls
// (sufficient for 100 ns resolution per spec §4.E).
func formatFloat7(f float64) string {
	return strconv.FormatFloat(f, 'f', 7, 64)
}
