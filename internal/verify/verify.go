// Package verify runs the golden-path check against a freshly built index:
// wait for the serving component to be healthy, wait for the index to hold
// documents, wait for the canonical query to be answerable, then assert the
// literal expectations from the pipeline descriptor.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpaca-search/alpacactl/internal/ctxlog"
	"github.com/alpaca-search/alpacactl/internal/pipeline"
	"github.com/alpaca-search/alpacactl/internal/poll"
	"github.com/alpaca-search/alpacactl/internal/search"
)

// Config bounds the verifier's polling phases. Zero values fall back to
// defaults suited to a local serving component.
type Config struct {
	Attempts int
	Interval time.Duration
}

func (c Config) budget() poll.Budget {
	b := poll.Budget{MaxAttempts: c.Attempts, Interval: c.Interval}
	if b.MaxAttempts == 0 {
		b.MaxAttempts = 30
	}
	if b.Interval == 0 {
		b.Interval = 2 * time.Second
	}
	return b
}

// Error reports a failed verification phase together with what the serving
// component last returned, so a failure names the divergence rather than
// just "verification failed".
type Error struct {
	Phase  string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("golden-path verification failed at %s: %s", e.Phase, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying poll or transport error.
func (e *Error) Unwrap() error { return e.Err }

// Verifier checks a live index against descriptor expectations.
type Verifier struct {
	Client *search.Client
	Config Config
}

// Run executes all verification phases against indexID, in order, stopping
// at the first failure.
func (v *Verifier) Run(ctx context.Context, indexID string, spec *pipeline.VerifySpec) error {
	logger := ctxlog.FromContext(ctx).With("index_id", indexID)
	budget := v.Config.budget()

	logger.Info("🩺 Verifying golden path.", "query", spec.Query)

	if _, err := poll.Wait(ctx, "serving component healthy", v.Client.HealthPredicate(), budget); err != nil {
		return &Error{Phase: "health", Detail: "serving component never became healthy", Err: err}
	}

	docs, err := poll.Wait(ctx, fmt.Sprintf("index %s non-empty", indexID), v.Client.NonEmptyIndexPredicate(indexID), budget)
	if err != nil {
		return &Error{Phase: "index", Detail: fmt.Sprintf("index %s never reported documents", indexID), Err: err}
	}
	logger.Debug("Index reported documents.", "doc_count", docs)

	req := search.Request{Query: spec.Query}
	resp, err := poll.Wait(ctx, fmt.Sprintf("query %q answerable", spec.Query), v.Client.QueryAnswerablePredicate(indexID, req, spec.MinHits), budget)
	if err != nil {
		return &Error{
			Phase:  "query",
			Detail: fmt.Sprintf("query %q never reached %d hits", spec.Query, spec.MinHits),
			Err:    err,
		}
	}

	if err := assertTopHit(spec, resp); err != nil {
		return err
	}
	for i, filtered := range spec.Filtered {
		if err := v.assertFiltered(ctx, indexID, spec.Query, i, filtered); err != nil {
			return err
		}
	}

	logger.Info("✅ Golden path verified.", "hits", resp.NumHits)
	return nil
}

// assertTopHit checks the expected best result of the unfiltered query.
func assertTopHit(spec *pipeline.VerifySpec, resp *search.Response) error {
	if spec.TopHit == "" {
		return nil
	}
	if len(resp.Hits) == 0 {
		return &Error{Phase: "top_hit", Detail: fmt.Sprintf("expected top hit %s but the result list is empty", spec.TopHit)}
	}
	if got := resp.Hits[0].ID; got != spec.TopHit {
		return &Error{
			Phase:  "top_hit",
			Detail: fmt.Sprintf("expected top hit %s, got %s (%s)", spec.TopHit, got, resp.Hits[0].Label),
		}
	}
	return nil
}

// assertFiltered runs one type-filtered query once and checks its exact hit
// count. The index is known answerable by now, so no polling here.
func (v *Verifier) assertFiltered(ctx context.Context, indexID, query string, i int, filtered *pipeline.FilteredQuerySpec) error {
	req := search.Request{
		Query:       query,
		CoarseTypes: filtered.CoarseTypes,
		FineTypes:   filtered.FineTypes,
	}
	resp, err := v.Client.Search(ctx, indexID, req)
	if err != nil {
		return &Error{
			Phase:  "filtered",
			Detail: fmt.Sprintf("filtered query %d (%s) failed", i, describeFilters(filtered)),
			Err:    err,
		}
	}
	if resp.NumHits != int64(filtered.ExactHits) {
		return &Error{
			Phase:  "filtered",
			Detail: fmt.Sprintf("filtered query %d (%s): expected exactly %d hits, got %d", i, describeFilters(filtered), filtered.ExactHits, resp.NumHits),
		}
	}
	return nil
}

func describeFilters(f *pipeline.FilteredQuerySpec) string {
	var parts []string
	if len(f.CoarseTypes) > 0 {
		parts = append(parts, "coarse="+strings.Join(f.CoarseTypes, ","))
	}
	if len(f.FineTypes) > 0 {
		parts = append(parts, "fine="+strings.Join(f.FineTypes, ","))
	}
	return strings.Join(parts, " ")
}
