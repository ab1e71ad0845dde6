package pipeline

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/alpaca-search/alpacactl/internal/progress"
)

// tailBuffer keeps the last max bytes written to it. Stage stderr can be
// arbitrarily large; only the tail is useful in a failure report.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// Write implements io.Writer.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// String returns the retained tail, trimmed.
func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

// progressPrefix is the stdout convention streaming stages use to report the
// cumulative number of records they have processed.
const progressPrefix = "processed="

// progressWriter scans a stage's stdout for "processed=<n>" lines and feeds
// the deltas to the run-level progress reporter. Other output is ignored.
type progressWriter struct {
	reporter *progress.Reporter
	pending  []byte
	lastSeen int64
}

func newProgressWriter(reporter *progress.Reporter) *progressWriter {
	return &progressWriter{reporter: reporter}
}

// Write implements io.Writer. Partial lines are buffered across writes.
func (w *progressWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := strings.TrimSpace(string(w.pending[:idx]))
		w.pending = w.pending[idx+1:]
		w.consume(line)
	}
}

func (w *progressWriter) consume(line string) {
	if !strings.HasPrefix(line, progressPrefix) {
		return
	}
	count, err := strconv.ParseInt(strings.TrimPrefix(line, progressPrefix), 10, 64)
	if err != nil || count <= w.lastSeen {
		return
	}
	w.reporter.Add(count - w.lastSeen)
	w.lastSeen = count
}
