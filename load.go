package gopagecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/Alp4ka/gopagecache/signal"
)

// _flightAttempts bounds the loads of one caller when shared flights keep
// failing on contexts of other callers.
const _flightAttempts = 3

// target is a resolved source for one load.
type target[T any] struct {
	// source is nil for inline fetch functions.
	source   *Source[T]
	fetch    FetchFunc[T]
	registry *registry[T]
}

func (t target[T]) name() string {
	if t.source == nil {
		return ""
	}

	return t.source.name
}

// load fetches req from upstream and merges the page into the registry.
//
// For named sources the request is recorded under instanceID (0 records
// nothing) and identical concurrent loads of the same signature, page and
// page size share a single fetch.
func (c *Cache[T]) load(ctx context.Context, t target[T], req Request, instanceID uint64) ([]T, error) {
	key, err := Signature(req.Args)
	if err != nil {
		return nil, fmt.Errorf("cannot load page %d: %w", req.Page, err)
	}

	req.Args = signal.Unwrap(req.Args)
	if lo.IsNil(req.Args) {
		req.Args = nil
	}

	if t.source == nil {
		return c.fetchAndMerge(ctx, t, key, req)
	}

	if instanceID != 0 {
		t.source.register(instanceID, key, req)
	}

	flightKey := fmt.Sprintf("%s\x00%s\x00%d\x00%d", t.source.name, key, req.Page, req.PageSize)
	for attempt := 1; ; attempt++ {
		v, err, shared := c.flight.Do(flightKey, func() (any, error) {
			return c.fetchAndMerge(ctx, t, key, req)
		})
		if err == nil {
			return v.([]T), nil
		}

		// A shared flight may have been cancelled by the context of another
		// caller.
		if !shared || attempt >= _flightAttempts || ctx.Err() != nil || !isContextErr(err) {
			return nil, err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache[T]) fetchAndMerge(ctx context.Context, t target[T], key string, req Request) ([]T, error) {
	res, err := t.fetch(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSkip) {
			return nil, err
		}

		return nil, &FetchError{Source: t.name(), Key: key, Request: req, Err: err}
	}

	items, err := validateResult(res, req)
	if err != nil {
		return nil, fmt.Errorf("cannot merge page %d of source '%s': %w", req.Page, t.name(), err)
	}

	t.registry.put(key, res.Total, req.Offset(), items)

	return items, nil
}

func validateResult[T any](res *Result[T], req Request) ([]T, error) {
	if res == nil {
		return nil, malformed("nil result")
	}

	items, ok := res.page()
	if !ok {
		return nil, malformed("no `items` found in result")
	}

	if res.Total < 0 {
		return nil, malformed("negative total %d", res.Total)
	}

	if len(items) > req.PageSize {
		return nil, malformed("%d items exceed page size %d", len(items), req.PageSize)
	}

	if len(items) > 0 && req.Offset()+len(items) > res.Total {
		return nil, malformed("%d items at offset %d exceed total %d", len(items), req.Offset(), res.Total)
	}

	return items, nil
}
