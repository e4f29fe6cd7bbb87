package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture file. Write errors are counted
// rather than returned since Log has no error path.
type FileLogger struct {
	path   string
	failed atomic.Uint64

	mu   sync.Mutex
	file *os.File
	enc  *cbor.Encoder // nil once closed
}

// NewFileLogger opens path for appending, creating missing directories.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return &FileLogger{path: path, file: f, enc: NewEncoder(f)}, nil
}

func (l *FileLogger) Path() string { return l.path }

// Failed is the number of events that could not be written.
func (l *FileLogger) Failed() uint64 { return l.failed.Load() }

func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enc == nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.failed.Add(1)
	}
}

// Close closes the file. Later calls to Log and Close do nothing.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enc == nil {
		return nil
	}
	l.enc = nil
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
