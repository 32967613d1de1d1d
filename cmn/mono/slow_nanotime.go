//go:build !mono

// Package mono provides low-level monotonic time used for runner and
// instance latency bookkeeping.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package mono

import "time"

func NanoTime() int64 { return time.Now().UnixNano() }
