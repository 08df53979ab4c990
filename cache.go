package gopagecache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Alp4ka/gopagecache/signal"
)

// Cache owns the source directory and the registries of every named source.
// Independent caches share nothing.
type Cache[T any] struct {
	cfg *Config

	mx      sync.RWMutex
	sources map[string]*Source[T]

	// version is bumped on every registry mutation of a named source.
	version *signal.Cell[uint64]
	// epoch is bumped when the directory changes or a source is refreshed.
	epoch *signal.Cell[uint64]

	flight singleflight.Group
	nextID atomic.Uint64
}

// New creates an empty cache. A nil cfg means DefaultConfig().
func New[T any](cfg *Config) *Cache[T] {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Cache[T]{
		cfg:     cfg,
		sources: make(map[string]*Source[T]),
		version: signal.NewCell[uint64](0),
		epoch:   signal.NewCell[uint64](0),
	}
}

// Config returns the cache configuration.
func (c *Cache[T]) Config() *Config {
	return c.cfg
}

// CreateSource registers fn under name. Registering an existing name
// replaces its fetch function and drops its cached partitions; bound views
// stay bound and refetch.
func (c *Cache[T]) CreateSource(name string, fn FetchFunc[T]) {
	if fn == nil {
		panic(fmt.Errorf("cannot create source '%s': nil fetch function", name))
	}

	c.mx.Lock()
	s, exists := c.sources[name]
	if !exists {
		c.sources[name] = &Source[T]{
			name:      name,
			cache:     c,
			fn:        fn,
			registry:  newRegistry[T](c.version),
			instances: make(map[uint64]instance),
		}
	}
	c.mx.Unlock()

	if exists {
		if bound := s.replace(fn); bound > 0 {
			c.cfg.Logger().Printf("gopagecache: source '%s' replaced while %d views are bound to it", name, bound)
		}
	}

	c.bumpEpoch()
}

// Source returns the named source or an error wrapping ErrUnknownSource.
func (c *Cache[T]) Source(name string) (*Source[T], error) {
	s, ok := c.lookup(name)
	if !ok {
		return nil, unknownSource(name)
	}

	return s, nil
}

// Sources returns the registered source names in ascending order.
func (c *Cache[T]) Sources() []string {
	c.mx.RLock()
	names := lo.Keys(c.sources)
	c.mx.RUnlock()

	slices.Sort(names)

	return names
}

func (c *Cache[T]) lookup(name string) (*Source[T], bool) {
	c.mx.RLock()
	defer c.mx.RUnlock()

	s, ok := c.sources[name]

	return s, ok
}

func (c *Cache[T]) bumpEpoch() {
	c.epoch.Update(func(v uint64) uint64 { return v + 1 })
}

func (c *Cache[T]) normalize(req Request) Request {
	req.Page = max(req.Page, FirstPage)
	req.PageSize = c.cfg.NormalizePageSize(req.PageSize)

	return req
}

// instance is the last request of a view bound to a named source.
type instance struct {
	key string
	req Request
}

// Source is a named entry of the directory.
type Source[T any] struct {
	name     string
	cache    *Cache[T]
	registry *registry[T]

	mx        sync.RWMutex
	fn        FetchFunc[T]
	instances map[uint64]instance
}

// Name returns the source name.
func (s *Source[T]) Name() string {
	return s.name
}

// Instances returns the number of live views bound to the source.
func (s *Source[T]) Instances() int {
	s.mx.RLock()
	defer s.mx.RUnlock()

	return len(s.instances)
}

// Partitions returns the number of cached signatures.
func (s *Source[T]) Partitions() int {
	return s.registry.size()
}

// Total returns the cached item count for args, false if no page for args
// has been loaded.
func (s *Source[T]) Total(args any) (int, bool) {
	key, err := Signature(args)
	if err != nil {
		return 0, false
	}

	return s.registry.length(key)
}

// Refresh drops every cached partition of the source and reloads the page
// last requested by each bound view. Loads run concurrently, bounded by
// Config.RefreshConcurrency; all failures are joined into the returned
// error.
func (s *Source[T]) Refresh(ctx context.Context) error {
	s.registry.clear()
	s.cache.bumpEpoch()

	var (
		t    = s.target()
		g    errgroup.Group
		mx   sync.Mutex
		errs []error
	)
	if n := s.cache.cfg.RefreshConcurrency; n > 0 {
		g.SetLimit(n)
	}

	for _, req := range s.pending() {
		g.Go(func() error {
			_, err := s.cache.load(ctx, t, req, 0)
			if err != nil && !errors.Is(err, ErrSkip) {
				mx.Lock()
				errs = append(errs, err)
				mx.Unlock()
			}

			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("cannot refresh source '%s': %w", s.name, errors.Join(errs...))
	}

	return nil
}

// FetchRange returns the requested window from the cache, loading it if it
// is not complete. Zero page and page size select the first page and the
// configured default size.
func (s *Source[T]) FetchRange(ctx context.Context, req Request) ([]T, error) {
	req = s.cache.normalize(req)

	key, err := Signature(req.Args)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch range of source '%s': %w", s.name, err)
	}

	if window, ok := s.registry.readWindow(key, req.Offset(), req.PageSize); ok {
		return window, nil
	}

	return s.cache.load(ctx, s.target(), req, 0)
}

func (s *Source[T]) target() target[T] {
	s.mx.RLock()
	defer s.mx.RUnlock()

	return target[T]{
		source:   s,
		fetch:    s.fn,
		registry: s.registry,
	}
}

func (s *Source[T]) replace(fn FetchFunc[T]) int {
	s.mx.Lock()
	s.fn = fn
	bound := len(s.instances)
	s.mx.Unlock()

	s.registry.clear()

	return bound
}

func (s *Source[T]) register(id uint64, key string, req Request) {
	req.Args = signal.Unwrap(req.Args)

	s.mx.Lock()
	defer s.mx.Unlock()

	s.instances[id] = instance{key: key, req: req}
}

func (s *Source[T]) unregister(id uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()

	delete(s.instances, id)
}

// pending returns one request per distinct (signature, page, page size)
// among bound views.
func (s *Source[T]) pending() []Request {
	s.mx.RLock()
	bound := lo.Values(s.instances)
	s.mx.RUnlock()

	bound = lo.UniqBy(bound, func(i instance) string {
		return fmt.Sprintf("%s/%d/%d", i.key, i.req.Page, i.req.PageSize)
	})

	return lo.Map(bound, func(i instance, _ int) Request {
		return i.req
	})
}
