// Package accesslog implements the request-summary logger named in
// aiotftp's logger.py AccessLogger: one structured line per completed
// transfer. Where the source formats a configurable Apache-style
// string ("%a %t %o \"%r\" %b %T"), this version logs the same fields
// as logrus key/value pairs, the idiomatic Go equivalent.
package accesslog

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sangoma/gotftp"
)

// Logger implements tftp.AccessLogger, logging one line per transfer.
type Logger struct {
	out logrus.FieldLogger
}

// New returns a Logger that writes through out. A nil out uses
// logrus.StandardLogger().
func New(out logrus.FieldLogger) *Logger {
	if out == nil {
		out = logrus.StandardLogger()
	}
	return &Logger{out: out}
}

// Log records one completed transfer.
func (l *Logger) Log(req *tftp.Request, length uint64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"trace_id":    req.TraceID,
		"remote":      req.Remote.String(),
		"method":      req.Method.String(),
		"filename":    req.Filename,
		"bytes":       length,
		"duration_ms": duration.Milliseconds(),
	}
	entry := l.out.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("transfer failed")
		return
	}
	entry.Info("transfer complete")
}

var _ tftp.AccessLogger = (*Logger)(nil)
