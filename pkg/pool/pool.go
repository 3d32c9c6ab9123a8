// Package pool provides a bounded parallel map over a slice of inputs. The
// registry client itself performs synchronous, blocking calls; callers that
// want parallel manifest or digest fetches across many images fan out here
// instead, with concurrency capped by a worker limit.
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Map applies process to every item with at most limit invocations running
// concurrently, returning the results in input order. The first error cancels
// the remaining work and is returned; results produced before the failure are
// discarded. A limit below one runs unbounded.
func Map[In, Out any](
	ctx context.Context,
	limit int,
	items []In,
	process func(ctx context.Context, item In) (Out, error),
) ([]Out, error) {
	results := make([]Out, len(items))

	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	for i, item := range items {
		group.Go(func() error {
			result, err := process(groupCtx, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}

			results[i] = result

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
