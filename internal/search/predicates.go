package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpaca-search/alpacactl/internal/poll"
)

// HealthPredicate is Ready once the health endpoint responds successfully.
// Connection errors during startup are transient, not fatal.
func (c *Client) HealthPredicate() poll.Predicate[struct{}] {
	return func(ctx context.Context) (poll.Outcome, struct{}, error) {
		if err := c.Healthy(ctx); err != nil {
			return poll.TransientError, struct{}{}, err
		}
		return poll.Ready, struct{}{}, nil
	}
}

// NonEmptyIndexPredicate is Ready once the named index reports a document
// count above zero. A zero count is NotYet; a missing index (the ingest may
// not have created it yet) is a TransientError.
func (c *Client) NonEmptyIndexPredicate(indexID string) poll.Predicate[int64] {
	return func(ctx context.Context) (poll.Outcome, int64, error) {
		stats, err := c.Stats(ctx, indexID)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				return poll.TransientError, 0, fmt.Errorf("index %s does not exist yet", indexID)
			}
			return poll.TransientError, 0, err
		}
		if stats.DocCount <= 0 {
			return poll.NotYet, 0, fmt.Errorf("index %s has no documents yet", indexID)
		}
		return poll.Ready, stats.DocCount, nil
	}
}

// QueryAnswerablePredicate is Ready once a fixed query returns a well-formed
// response with at least minHits entries.
func (c *Client) QueryAnswerablePredicate(indexID string, req Request, minHits int) poll.Predicate[*Response] {
	return func(ctx context.Context) (poll.Outcome, *Response, error) {
		resp, err := c.Search(ctx, indexID, req)
		if err != nil {
			return poll.TransientError, nil, err
		}
		if len(resp.Hits) < minHits {
			return poll.NotYet, nil, fmt.Errorf("query %q returned %d hits, want at least %d", req.Query, len(resp.Hits), minHits)
		}
		return poll.Ready, resp, nil
	}
}
