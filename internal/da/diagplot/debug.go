package diagplot

import (
	"io"

	"github.com/banshee-data/ucldas/internal/monitoring"
)

var logs = monitoring.NewStreams("[diagplot] ")

// SetLogWriters configures the logging streams for the diagplot package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(ops, diag, trace)
}

func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
