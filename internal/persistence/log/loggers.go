package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"routeagent.ai/internal/protocol"
)

const hourLayout = "2006-01-02-15"

// segment is one open hourly file. Every record is flushed through to a
// complete zstd block, so a segment is readable while it is still open.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	buf := bufio.NewWriterSize(zw, 16*1024)
	return &segment{hour: hour, file: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *segment) append(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segment) close() error {
	return errors.Join(s.buf.Flush(), s.zw.Close(), s.file.Close())
}

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir. The hour is taken in UTC.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	now     func() time.Time
	seg     *segment
	records uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

// WithClock replaces the clock used to pick the hourly file.
func (w *JSONLZstdWriter) WithClock(now func() time.Time) *JSONLZstdWriter {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

// Write appends v as one line, switching files when the hour has changed.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	if w.seg == nil || w.seg.hour != hour {
		if err := w.closeSegment(); err != nil {
			return err
		}
		seg, err := openSegment(w.path(hour), hour)
		if err != nil {
			return fmt.Errorf("open %s segment %s: %w", w.prefix, hour, err)
		}
		w.seg = seg
	}
	if err := w.seg.append(v); err != nil {
		return err
	}
	w.records++
	return nil
}

// Records is the number of lines written since the writer was created.
func (w *JSONLZstdWriter) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment()
}

func (w *JSONLZstdWriter) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

func (w *JSONLZstdWriter) path(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TimelineLogger writes one compressed JSONL record per timeline entry under
// <dataDir>/timeline.
type TimelineLogger struct{ w *JSONLZstdWriter }

func NewTimelineLogger(dataDir string) *TimelineLogger {
	return &TimelineLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "timeline"), "timeline")}
}

// Record accepts TIMELINE_EVENT envelopes only.
func (l *TimelineLogger) Record(env protocol.Envelope) error {
	rec, err := protocol.TimelineRecordOf(env)
	if err != nil {
		return err
	}
	return l.w.Write(rec)
}

func (l *TimelineLogger) Close() error { return l.w.Close() }
