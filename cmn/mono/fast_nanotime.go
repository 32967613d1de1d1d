//go:build mono

// Package mono provides low-level monotonic time used for runner and
// instance latency bookkeeping.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package mono

import (
	_ "unsafe" // for go:linkname
)

// https://golang.org/pkg/runtime/?m=all#nanotime
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
