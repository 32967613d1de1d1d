package mono

import "time"

func Since(start int64) time.Duration { return time.Duration(NanoTime() - start) }
