package gopagecache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/Alp4ka/gopagecache/signal"
)

var _users = []string{"a", "b", "c", "d", "e", "f", "g", "h"}

// tSource is an in-memory upstream. Items get the "count" arg appended so
// different args produce distinguishable pages.
type tSource struct {
	mx    sync.Mutex
	items []string
	calls []Request
	err   error
	skip  bool
	block chan struct{}
}

func newTSource(items ...string) *tSource {
	return &tSource{items: items}
}

func (s *tSource) fetch(ctx context.Context, req Request) (*Result[string], error) {
	s.mx.Lock()
	s.calls = append(s.calls, req)
	items, err, skip, block := s.items, s.err, s.skip, s.block
	s.mx.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if skip {
		return nil, ErrSkip
	}

	suffix := ""
	switch args := req.Args.(type) {
	case map[string]int:
		suffix = strconv.Itoa(args["count"])
	case map[string]any:
		suffix = fmt.Sprint(signal.Unwrap(args["count"]))
	}

	page := []string{}
	if offset := req.Offset(); offset < len(items) {
		end := min(offset+req.PageSize, len(items))
		page = lo.Map(items[offset:end], func(item string, _ int) string {
			return item + suffix
		})
	}

	return &Result[string]{Total: len(items), Items: page}, nil
}

func (s *tSource) set(fn func(s *tSource)) {
	s.mx.Lock()
	defer s.mx.Unlock()

	fn(s)
}

func (s *tSource) callCount() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return len(s.calls)
}

func (s *tSource) callsSince(n int) []Request {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]Request(nil), s.calls[n:]...)
}

func newTestCache() *Cache[string] {
	return New[string](DefaultConfig().WithLogger(Discard))
}

func settle[T any](t *testing.T, v *View[T]) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, v.Settle(ctx))
}
