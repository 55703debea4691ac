package linearmodel

import (
	"io"

	"github.com/banshee-data/ucldas/internal/monitoring"
)

var logs = monitoring.NewStreams("[linearmodel] ")

// SetLogWriters configures the three logging streams for the linearmodel
// package. Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(ops, diag, trace)
}

// opsf logs to the ops stream (actionable warnings, errors).
func opsf(format string, args ...interface{}) { logs.Opsf(format, args...) }

// diagf logs to the diag stream (run context).
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

// tracef logs to the trace stream (per-call telemetry).
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
