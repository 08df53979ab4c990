package gopagecache

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/Alp4ka/gopagecache/signal"
)

// ViewOptions configures a new View.
type ViewOptions struct {
	// Page initial page, FirstPage when zero.
	Page int
	// PageSize initial page size, Config.DefaultPageSize when zero.
	PageSize int
	// Args filter arguments. Observable values (e.g. *signal.Cell) found in
	// args, at the top level or nested in maps, slices and struct fields,
	// are watched: changing any of them re-evaluates the view.
	Args any
	// OnError is called with every failed load.
	OnError func(error)
}

// View binds page, page size and args inputs to a source and exposes the
// current window as observable outputs.
//
// Input changes are evaluated one at a time on a goroutine owned by the
// view; changes arriving during an evaluation are coalesced into one more
// evaluation of the latest state. The View never exposes a window with
// missing items: Items is empty until the whole window is cached.
type View[T any] struct {
	cache   *Cache[T]
	ref     SourceRef[T]
	local   *registry[T]
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	onError func(error)

	page     *signal.Cell[int]
	pageSize *signal.Cell[int]
	args     *signal.Cell[any]
	loading  *signal.Cell[bool]
	err      *signal.Cell[error]
	// evaluated is bumped after every evaluation pass.
	evaluated *signal.Cell[uint64]

	offset     *signal.Computed[int]
	items      *signal.Computed[[]T]
	total      *signal.Computed[int]
	totalPages *signal.Computed[int]

	mx       sync.Mutex
	queued   bool
	running  bool
	closed   bool
	idle     chan struct{}
	stops    []func()
	bound    binding[T]
	observed window

	argsMx   sync.Mutex
	argsStop func()
}

// binding is the registry and signature key of the last evaluation.
type binding[T any] struct {
	registry *registry[T]
	key      string
}

// window is what the registry holds for the bound key and current page.
type window struct {
	total int
	known bool
	ready bool
}

// lastPage returns the highest valid page once the total is known. It is
// never below FirstPage so an empty dataset does not bounce between clamps.
func (w window) lastPage(pageSize int) int {
	return max(TotalPages(w.total, pageSize), FirstPage)
}

// NewView creates a view over ref and starts its first evaluation. A nil
// cache is only valid for inline sources. ctx bounds every fetch issued by
// the view; Close cancels it as well.
func NewView[T any](ctx context.Context, cache *Cache[T], ref SourceRef[T], opts ViewOptions) *View[T] {
	if cache == nil {
		if !ref.IsInline() {
			panic("gopagecache: named source view requires a cache")
		}
		cache = New[T](nil)
	}

	idle := make(chan struct{})
	close(idle)

	v := &View[T]{
		cache:     cache,
		ref:       ref,
		id:        cache.nextID.Add(1),
		onError:   opts.OnError,
		page:      signal.NewCell(max(opts.Page, FirstPage)),
		pageSize:  signal.NewCell(cache.cfg.NormalizePageSize(opts.PageSize)),
		args:      signal.NewCell(opts.Args).WithEqual(sameArgs),
		loading:   signal.NewCell(false),
		err:       signal.NewCell[error](nil),
		evaluated: signal.NewCell[uint64](0),
		idle:      idle,
	}
	v.ctx, v.cancel = context.WithCancel(ctx)

	version := cache.version
	if ref.IsInline() {
		v.local = newRegistry[T](nil)
		version = v.local.version
	}

	deps := []signal.Observable{v.page, v.pageSize, v.args, v.evaluated, version, cache.epoch}
	v.offset = signal.NewComputed(v.currentOffset, v.page, v.pageSize)
	v.items = signal.NewComputed(v.currentItems, deps...)
	v.total = signal.NewComputed(v.currentTotal, deps...)
	v.totalPages = signal.NewComputed(func() int {
		return TotalPages(v.total.Get(), v.pageSize.Get())
	}, deps...)

	v.stops = []func(){
		signal.Watch(v.schedule, v.page, v.pageSize, cache.epoch),
		version.Subscribe(v.recheck),
		v.args.Subscribe(v.rebindArgs),
	}
	v.bindArgs()
	v.schedule()

	return v
}

// Page is the current 1-based page. Out of range values are clamped.
func (v *View[T]) Page() *signal.Cell[int] { return v.page }

// PageSize is the current page size.
func (v *View[T]) PageSize() *signal.Cell[int] { return v.pageSize }

// Args holds the filter arguments.
func (v *View[T]) Args() *signal.Cell[any] { return v.args }

// Loading is true while a fetch issued by the view is outstanding.
func (v *View[T]) Loading() *signal.Cell[bool] { return v.loading }

// Err holds the last load failure, nil after a successful load.
func (v *View[T]) Err() *signal.Cell[error] { return v.err }

// Offset is the index of the first item of the current page.
func (v *View[T]) Offset() *signal.Computed[int] { return v.offset }

// Items is the current window, empty while it is not fully cached.
func (v *View[T]) Items() *signal.Computed[[]T] { return v.items }

// Total is the number of items for the current args, 1 while unknown.
func (v *View[T]) Total() *signal.Computed[int] { return v.total }

// TotalPages is ceil(Total/PageSize).
func (v *View[T]) TotalPages() *signal.Computed[int] { return v.totalPages }

// Settle blocks until no evaluation is queued or running.
func (v *View[T]) Settle(ctx context.Context) error {
	for {
		v.mx.Lock()
		if !v.running {
			v.mx.Unlock()
			return nil
		}
		idle := v.idle
		v.mx.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops watching inputs, cancels outstanding fetches and unbinds the
// view from its named source. Close is idempotent.
func (v *View[T]) Close() {
	v.mx.Lock()
	if v.closed {
		v.mx.Unlock()
		return
	}
	v.closed = true
	stops := v.stops
	v.stops = nil
	v.mx.Unlock()

	for _, stop := range stops {
		stop()
	}

	v.argsMx.Lock()
	if v.argsStop != nil {
		v.argsStop()
		v.argsStop = nil
	}
	v.argsMx.Unlock()

	v.cancel()
	v.unregister()
}

func (v *View[T]) isClosed() bool {
	v.mx.Lock()
	defer v.mx.Unlock()

	return v.closed
}

func (v *View[T]) unregister() {
	if v.ref.IsInline() {
		return
	}

	if s, ok := v.cache.lookup(v.ref.name); ok {
		s.unregister(v.id)
	}
}

// bindArgs follows every observable currently reachable from args.
func (v *View[T]) bindArgs() {
	v.argsMx.Lock()
	defer v.argsMx.Unlock()

	if v.argsStop != nil {
		v.argsStop()
		v.argsStop = nil
	}

	if v.isClosed() {
		return
	}

	v.argsStop = signal.Watch(v.rebindArgs, signal.Observables(v.args.Get())...)
}

// rebindArgs runs on any args change: a changed cell may hold new nested
// observables.
func (v *View[T]) rebindArgs() {
	v.bindArgs()
	v.schedule()
}

// recheck schedules an evaluation when a registry mutation changed the
// window of the view, e.g. its partition was resized by another caller.
func (v *View[T]) recheck() {
	v.mx.Lock()
	w := v.windowLocked()
	changed := w != v.observed
	v.observed = w
	v.mx.Unlock()

	if changed {
		v.schedule()
	}
}

// observe binds the view to r and key and records the window it sees.
func (v *View[T]) observe(r *registry[T], key string) window {
	v.mx.Lock()
	defer v.mx.Unlock()

	v.bound = binding[T]{registry: r, key: key}
	v.observed = v.windowLocked()

	return v.observed
}

func (v *View[T]) windowLocked() window {
	r, key := v.bound.registry, v.bound.key
	if r == nil {
		return window{}
	}

	total, known := r.length(key)
	_, ready := r.readWindow(key, v.currentOffset(), v.pageSize.Get())

	return window{total: total, known: known, ready: ready}
}

func (v *View[T]) current() binding[T] {
	v.mx.Lock()
	defer v.mx.Unlock()

	return v.bound
}

func (v *View[T]) schedule() {
	v.mx.Lock()
	if v.closed {
		v.mx.Unlock()
		return
	}

	v.queued = true
	if v.running {
		v.mx.Unlock()
		return
	}
	v.running = true
	v.idle = make(chan struct{})
	v.mx.Unlock()

	go v.drain()
}

func (v *View[T]) drain() {
	for {
		v.mx.Lock()
		if !v.queued || v.closed {
			v.queued = false
			v.running = false
			close(v.idle)
			v.mx.Unlock()
			return
		}
		v.queued = false
		v.mx.Unlock()

		v.evaluate()
		v.evaluated.Update(func(n uint64) uint64 { return n + 1 })
	}
}

// evaluate runs one step of the view state machine. Clamping an input
// returns early; the write schedules the next step.
func (v *View[T]) evaluate() {
	t, ok := v.resolve()
	if !ok {
		v.observe(nil, "")
		return
	}

	pageSize := v.pageSize.Get()
	if normalized := v.cache.cfg.NormalizePageSize(pageSize); normalized != pageSize {
		v.pageSize.Set(normalized)
		return
	}

	page := v.page.Get()
	if page < FirstPage {
		v.page.Set(FirstPage)
		return
	}

	key, err := Signature(v.args.Get())
	if err != nil {
		v.observe(nil, "")
		v.fail(err)
		return
	}

	w := v.observe(t.registry, key)
	if w.known && page > w.lastPage(pageSize) {
		v.page.Set(w.lastPage(pageSize))
		return
	}

	req := Request{Page: page, PageSize: pageSize, Args: v.args.Get()}
	if t.source != nil {
		t.source.register(v.id, key, req)
		if v.isClosed() {
			v.unregister()
			return
		}
	}

	if w.ready {
		return
	}

	v.loading.Set(true)
	_, err = v.cache.load(v.ctx, t, req, v.id)
	v.loading.Set(false)

	if v.isClosed() {
		v.unregister()
		return
	}

	if err != nil {
		if !errors.Is(err, ErrSkip) {
			v.fail(err)
		}
		return
	}
	v.err.Set(nil)

	if w = v.observe(t.registry, key); w.known && page > w.lastPage(pageSize) {
		v.page.Set(w.lastPage(pageSize))
	}
}

func (v *View[T]) fail(err error) {
	v.err.Set(err)
	v.cache.cfg.Logger().Printf("gopagecache: %v", err)

	if v.onError != nil {
		v.onError(err)
	}
}

func (v *View[T]) resolve() (target[T], bool) {
	if v.ref.IsInline() {
		return target[T]{fetch: v.ref.fn, registry: v.local}, true
	}

	s, ok := v.cache.lookup(v.ref.name)
	if !ok {
		return target[T]{}, false
	}

	return s.target(), true
}

func (v *View[T]) currentOffset() int {
	page, pageSize := v.page.Get(), v.pageSize.Get()
	if page < FirstPage || pageSize <= 0 {
		return 0
	}

	return Offset(page, pageSize)
}

func (v *View[T]) currentItems() []T {
	b := v.current()
	if b.registry == nil {
		return []T{}
	}

	items, ok := b.registry.readWindow(b.key, v.currentOffset(), v.pageSize.Get())
	if !ok {
		return []T{}
	}

	return items
}

func (v *View[T]) currentTotal() int {
	b := v.current()
	if b.registry == nil {
		return 1
	}

	total, ok := b.registry.length(b.key)
	if !ok {
		return 1
	}

	return total
}

// sameArgs compares observables by identity and plain values deeply.
func sameArgs(a, b any) bool {
	_, aObservable := a.(signal.Observable)
	_, bObservable := b.(signal.Observable)
	if aObservable || bObservable {
		return aObservable && bObservable && a == b
	}

	return reflect.DeepEqual(a, b)
}
