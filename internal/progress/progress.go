// Package progress implements a slog-backed progress indicator for streaming
// stages. Totals come from the size estimator and are therefore approximate:
// the reporter grows its total when the observed count overtakes it and snaps
// the total to the true count when the stream finishes, so the indicator
// never shows more than 100% mid-run or less than 100% at the end.
package progress

import (
	"context"
	"log/slog"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
)

// minHeadroom is the smallest amount added to an overtaken total.
const minHeadroom = 100

// Reporter tracks observed units against an estimated total. It is used from
// the single sequential control thread and is not safe for concurrent use.
type Reporter struct {
	logger *slog.Logger
	label  string

	total int64
	count int64

	logEvery int64
	nextLog  int64
}

// NewReporter creates a reporter sized by the estimated total. logEvery
// controls how many units pass between progress log lines; zero disables
// intermediate logging.
func NewReporter(ctx context.Context, label string, estimatedTotal int64, logEvery int64) *Reporter {
	if estimatedTotal < 0 {
		estimatedTotal = 0
	}
	return &Reporter{
		logger:   ctxlog.FromContext(ctx).With("progress", label),
		label:    label,
		total:    estimatedTotal,
		logEvery: logEvery,
		nextLog:  logEvery,
	}
}

// Add records n more processed units.
func (r *Reporter) Add(n int64) {
	if n <= 0 {
		return
	}
	r.count += n
	r.keepTotalAhead()

	if r.logEvery > 0 && r.count >= r.nextLog {
		r.nextLog = r.count + r.logEvery
		r.logger.Info("Progress.", "count", r.count, "total", r.total, "percent", r.Percent())
	}
}

// keepTotalAhead bumps the total when the observed count overtakes the
// estimate, keeping at least minHeadroom or 5% of the count as headroom.
func (r *Reporter) keepTotalAhead() {
	if r.count <= r.total {
		return
	}
	extra := r.count / 20
	if extra < minHeadroom {
		extra = minHeadroom
	}
	r.total = r.count + extra
}

// Finish snaps the total to the observed count and logs the final state.
func (r *Reporter) Finish() {
	r.total = r.count
	r.logger.Info("Progress complete.", "count", r.count)
}

// Count returns the number of units observed so far.
func (r *Reporter) Count() int64 { return r.count }

// Total returns the current (possibly adjusted) total.
func (r *Reporter) Total() int64 { return r.total }

// Percent returns the completion percentage against the current total.
func (r *Reporter) Percent() int {
	if r.total <= 0 {
		return 0
	}
	return int(r.count * 100 / r.total)
}
