package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// LineWriter forwards each complete line written to it as one slog record.
// Content is never inspected; a trailing partial line is held until the next
// newline or Close.
type LineWriter struct {
	mu     sync.Mutex
	log    *slog.Logger
	level  slog.Level
	msg    string
	stream string
	buf    bytes.Buffer
}

// NewLineWriter returns a writer logging lines as msg with a "stream" attribute.
func NewLineWriter(l *slog.Logger, level slog.Level, msg, stream string) *LineWriter {
	if l == nil {
		l = slog.Default()
	}
	return &LineWriter{log: l, level: level, msg: msg, stream: stream}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		w.emit(line)
	}
	return len(p), nil
}

// Close flushes a pending partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.log.Log(context.Background(), w.level, w.msg, "stream", w.stream, "line", line)
}
