package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// JSONLWriter appends one JSON document per line to hourly files named
// {prefix}-{yyyy-mm-dd-hh}.jsonl.zst under dir. Each line is its own zstd
// frame, so a file can be read while it is still open and a crash loses at
// most the line being written.
type JSONLWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	enc     *zstd.Encoder
	curHour string
	f       *os.File
	frame   []byte
}

// JSONLOption configures a JSONLWriter.
type JSONLOption func(*JSONLWriter)

// WithClock sets the clock that picks the hour file.
func WithClock(now func() time.Time) JSONLOption {
	return func(w *JSONLWriter) {
		if now != nil {
			w.now = now
		}
	}
}

// NewJSONLWriter creates a writer. Files are opened lazily on first write.
func NewJSONLWriter(dir, prefix string, opts ...JSONLOption) *JSONLWriter {
	w := &JSONLWriter{dir: dir, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends v as one JSON line, rotating to a new file when the hour
// changes. The line is on disk when Write returns.
func (w *JSONLWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	if w.f == nil || hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	w.frame = w.enc.EncodeAll(line, w.frame[:0])
	_, err = w.f.Write(w.frame)
	return err
}

// Path returns the file currently written to, or "" before the first write
// and after Close.
func (w *JSONLWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ""
	}
	return w.pathForHour(w.curHour)
}

// Close closes the current file. A later Write opens a new one.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.closeLocked()
	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
	return err
}

func (w *JSONLWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if w.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		w.enc = enc
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.curHour = hour
	return nil
}

func (w *JSONLWriter) closeLocked() error {
	var err error
	if w.f != nil {
		err = w.f.Close()
		w.f = nil
	}
	w.curHour = ""
	return err
}

func (w *JSONLWriter) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// JSONLSink writes failure records to a JSONLWriter.
type JSONLSink struct {
	w      *JSONLWriter
	logger *slog.Logger
}

// NewJSONLSink writes failures under dir/failures.
func NewJSONLSink(dir string, logger *slog.Logger, opts ...JSONLOption) *JSONLSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLSink{
		w:      NewJSONLWriter(filepath.Join(dir, "failures"), "failures", opts...),
		logger: logger,
	}
}

// Report appends f. A write error is logged, never returned.
func (s *JSONLSink) Report(f *Failure) {
	if err := s.w.Write(f.Record()); err != nil {
		s.logger.Error("failure log write failed", "error", err, "scene", f.SceneID)
	}
}

// Path returns the failure file currently written to.
func (s *JSONLSink) Path() string { return s.w.Path() }

// Close closes the underlying file.
func (s *JSONLSink) Close() error { return s.w.Close() }

// ReadJSONL decodes every line of a zstd JSONL file into records. The file
// may still be open for writing.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	var out []Record
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return out, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
