// Package glog is a minimal leveled logger: a package-level verbosity
// gate plus Logf/Errorf/Fatalf helpers.
package glog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var verbosity int32

// SetVerbosity sets the highest level that will be printed by Logf.
func SetVerbosity(v int) {
	atomic.StoreInt32(&verbosity, int32(v))
}

// Logf prints format/args when level is at or below the configured
// verbosity. Level 0 is always-on chatter (boot, spawn, teardown,
// scenario-attempt transitions); level 2+ is per-action SSH/monitor
// traffic.
func Logf(level int, format string, args ...any) {
	if int32(level) > atomic.LoadInt32(&verbosity) {
		return
	}
	log.Output(2, fmt.Sprintf(format, args...)) //nolint:errcheck
}

// Errorf logs an error-level message regardless of verbosity.
func Errorf(format string, args ...any) {
	log.Output(2, "ERROR: "+fmt.Sprintf(format, args...)) //nolint:errcheck
}

// Fatalf logs and exits the process with status 1.
func Fatalf(format string, args ...any) {
	log.Output(2, "FATAL: "+fmt.Sprintf(format, args...)) //nolint:errcheck
	os.Exit(1)
}
