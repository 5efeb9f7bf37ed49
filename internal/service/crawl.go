package service

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// pageFetcher requests one page of a listing.
type pageFetcher[T any] func(ctx context.Context, page int) (model.Page[T], error)

// crawl walks a paginated listing from the first page.
//
// [TERMINATION] Stops on an empty page or once the reported page reaches the reported total.
// [BACKPRESSURE] delay is slept between requests, never before the first one.
// visit runs for each non-empty page before the next request is issued.
func crawl[T any](ctx context.Context, delay time.Duration, fetch pageFetcher[T], visit func(items []T) error) (pages int, err error) {
	page := model.FirstPage
	for {
		if pages > 0 {
			if err := sleep(ctx, delay); err != nil {
				return pages, err
			}
		}

		p, err := fetch(ctx, page)
		if err != nil {
			return pages, fmt.Errorf("fetch page %d: %w", page, err)
		}
		pages++

		if len(p.Items) > 0 {
			if err := visit(p.Items); err != nil {
				return pages, err
			}
		}
		if p.Last() {
			return pages, nil
		}

		next := p.Next()
		if next <= page {
			// a server echoing a stale page number must not loop us forever
			next = page + 1
		}
		page = next
	}
}

// collect is crawl into a slice.
func collect[T any](ctx context.Context, delay time.Duration, fetch pageFetcher[T]) ([]T, error) {
	var out []T
	_, err := crawl(ctx, delay, fetch, func(items []T) error {
		out = append(out, items...)
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
