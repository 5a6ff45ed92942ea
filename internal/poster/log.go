package poster

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
)

// Log writes alerts to the process log instead of an external channel.
// Used in development and as the fallback when no telegram credentials are
// configured.
type Log struct {
	logger *log.Logger
	seq    atomic.Int64
}

// NewLog creates a log poster. A nil logger falls back to the default.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

// Name identifies the poster in logs.
func (l *Log) Name() string { return "log" }

// Post logs the alert and returns a synthetic post id.
func (l *Log) Post(_ context.Context, text string) (string, error) {
	id := l.seq.Add(1)
	l.logger.Printf("ALERT #%d\n%s", id, text)
	return fmt.Sprintf("log-%d", id), nil
}
