// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stagef returns a logger that prefixes every line with the comparison and
// pipeline stage, e.g. "[gpt4___llama/estimate-p] ". The prefix is resolved
// against Logf at call time so SetLogger still applies.
func Stagef(comparison, stage string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s/%s] ", comparison, stage)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
