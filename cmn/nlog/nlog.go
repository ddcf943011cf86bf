// Package nlog is the process-wide logger: buffered, timestamped, with
// severity-gated output and periodic flushing (see hk.Reg in cmd/kvd).
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ais-kv/kvd/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

type nlogger struct {
	mu  sync.Mutex
	w   *bufio.Writer
	out io.Writer
	sev severity
	set int64 // mono.NanoTime of last write
}

var (
	loggers      [3]*nlogger
	toStderr     bool
	alsoToStderr bool
	title        string
	logDir       string
	role         string
)

func init() {
	for s := sevInfo; s <= sevErr; s++ {
		loggers[s] = &nlogger{out: os.Stderr, sev: s}
		loggers[s].w = bufio.NewWriterSize(loggers[s].out, 4096)
	}
}

// InitFlags registers the two conventional glog-style flags; call before
// flag.Parse() in cmd/kvd/main.go.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, r string) { logDir, role = dir, r }
func SetTitle(s string)           { title = s }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string  { return sname() + ".ERROR" }

func sname() string {
	if role == "" {
		return "kvd"
	}
	return "kvd." + role
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	line := format1(sev, depth+1, format, args...)
	loggers[sev].write(line)
	if sev >= sevWarn {
		loggers[sevInfo].write(line)
	}
	if toStderr || alsoToStderr || sev >= sevErr {
		os.Stderr.WriteString(line)
	}
}

func (n *nlogger) write(line string) {
	n.mu.Lock()
	n.w.WriteString(line)
	n.set = mono.NanoTime()
	n.mu.Unlock()
}

// Flush pushes buffered lines to their underlying writer. Safe to call
// periodically from a housekeeping callback; exit=true also fsyncs.
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, n := range loggers {
		n.mu.Lock()
		n.w.Flush()
		if ex {
			if f, ok := n.out.(*os.File); ok && f != os.Stderr && f != os.Stdout {
				f.Sync()
			}
		}
		n.mu.Unlock()
	}
}

// Since returns the time elapsed since the most recent write to any
// severity-level logger.
func Since() time.Duration {
	var latest int64
	for _, n := range loggers {
		n.mu.Lock()
		if n.set > latest {
			latest = n.set
		}
		n.mu.Unlock()
	}
	if latest == 0 {
		return 0
	}
	return mono.Since(latest)
}

func format1(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		fn = filepath.Base(fn)
		fmt.Fprintf(&b, "%s:%d ", fn, ln)
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(format, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
