// ExitLogf prints a formatted fatal message and exits, the teacher's own
// bring-up-failure idiom (cos.ExitLogf) used by every daemon's main().
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
)

func ExitLogf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
