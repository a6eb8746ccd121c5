// Package monitoring carries the process-wide diagnostic logger shared by
// the ingest, detection and recording paths.
package monitoring

import "log"

// Logf writes a diagnostic line. It defaults to the standard library's
// log.Printf; SetLogger swaps it out, and tests usually silence it.
var Logf = log.Printf

// SetLogger installs f as the package logger. A nil f silences logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = discard
		return
	}
	Logf = f
}

func discard(string, ...interface{}) {}
