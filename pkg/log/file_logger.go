package log

import (
	"os"
	"sync"
)

// FileLogger appends bus events to a CBOR log file. It is safe for
// concurrent use; events from different goroutines land whole, never
// interleaved.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewFileLogger opens (or creates, mode 0644) the log file at path and
// appends to it.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f}, nil
}

// Log appends one event. Encoding and write failures are dropped on the
// floor: logging must never disturb the bus session it observes.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_, _ = l.file.Write(data)
}

// Close closes the log file. Close is idempotent; Log calls after Close
// are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
