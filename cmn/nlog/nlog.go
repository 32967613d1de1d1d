// Package nlog is the daemon's own logger: severity-leveled, timestamped,
// buffered, with caller file:line headers. Adapted from the teacher's
// cmn/nlog — the buffer-pool/file-rotation machinery is simplified down to
// a single mutex-guarded buffered writer shared by every severity (warnings
// and errors flush it immediately), since a dataflow daemon does
// not sustain the per-second log volume that motivated the teacher's
// double-buffer swap.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChars = "IWE"

type writer struct {
	mu  sync.Mutex
	out io.Writer
	bw  *bufio.Writer
}

var (
	mu       sync.Mutex
	w        = &writer{out: os.Stderr}
	initOnce sync.Once
)

func initWriter() {
	w.bw = bufio.NewWriterSize(w.out, 4096)
}

// SetOutput redirects all subsequent log lines; used by the daemon's
// bring-up code to point logs at a file once the config is known.
func SetOutput(out io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	initOnce.Do(initWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bw.Flush()
	w.out = out
	w.bw = bufio.NewWriterSize(out, 4096)
}

func Flush() {
	initOnce.Do(initWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bw.Flush()
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	initOnce.Do(initWriter)
	line := render(sev, depth+1, format, args...)
	w.mu.Lock()
	w.bw.WriteString(line)
	if sev >= sevWarn {
		w.bw.Flush()
	}
	w.mu.Unlock()
}

func render(sev severity, depth int, format string, args ...any) string {
	var sb strings.Builder
	sb.WriteByte(sevChars[sev])
	sb.WriteByte(' ')
	sb.WriteString(time.Now().Format("15:04:05.000000"))
	sb.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(1 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		sb.WriteString(fn)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(ln))
		sb.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&sb, args...)
	} else {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}
	return sb.String()
}
