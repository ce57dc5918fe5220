package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const maxLoggedURL = 2048

// Record is written as a single JSON object per inspected URL.
type Record struct {
	Timestamp  time.Time `json:"ts"`
	RequestID  string    `json:"request_id,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Source     string    `json:"source"`
	URL        string    `json:"url"`
	Gateway    string    `json:"gateway,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Key        string    `json:"key,omitempty"`
	Target     string    `json:"target,omitempty"`
	Matched    bool      `json:"matched"`
	Error      string    `json:"error,omitempty"`
	DurationUS int64     `json:"duration_us"`
}

type RecordLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRecordLogger(w io.Writer) *RecordLogger {
	return &RecordLogger{w: w}
}

// RotateOptions bound the size of a file-backed record log.
type RotateOptions struct {
	MaxSizeMB  int
	MaxBackups int
}

// OpenRecordLog opens path for appending; the file rotates once it reaches
// MaxSizeMB.
func OpenRecordLog(path string, opts RotateOptions) (*RecordLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return NewRecordLogger(out), out.Close, nil
}

func (l *RecordLogger) Write(record Record) error {
	if l == nil {
		return nil
	}
	record.URL = truncate(record.URL)
	record.Target = truncate(record.Target)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

func truncate(value string) string {
	if len(value) <= maxLoggedURL {
		return value
	}
	return value[:maxLoggedURL]
}
