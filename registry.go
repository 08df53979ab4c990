package gopagecache

import (
	"fmt"
	"sync"

	"github.com/Alp4ka/gopagecache/signal"
)

// slot is a partition position. A zero slot is unset and never exposed.
type slot[T any] struct {
	value T
	set   bool
}

// registry maps signature keys to partitions sized to the last known total.
type registry[T any] struct {
	mx         sync.RWMutex
	partitions map[string][]slot[T]
	// version is bumped after every mutation.
	version *signal.Cell[uint64]
}

func newRegistry[T any](version *signal.Cell[uint64]) *registry[T] {
	if version == nil {
		version = signal.NewCell[uint64](0)
	}

	return &registry[T]{
		partitions: make(map[string][]slot[T]),
		version:    version,
	}
}

// ensure replaces the partition for key with an empty one unless it already
// holds exactly total slots.
func (r *registry[T]) ensure(key string, total int) {
	r.mx.Lock()
	changed := r.ensureLocked(key, total)
	r.mx.Unlock()

	if changed {
		r.bump()
	}
}

// merge writes items starting at offset. Panics if the write does not fit
// the partition: ensure must precede merge for the same key.
func (r *registry[T]) merge(key string, offset int, items []T) {
	r.mx.Lock()
	r.mergeLocked(key, offset, items)
	r.mx.Unlock()

	if len(items) > 0 {
		r.bump()
	}
}

// put performs ensure and merge under one lock so readers never observe a
// resized but not yet filled partition.
func (r *registry[T]) put(key string, total int, offset int, items []T) {
	r.mx.Lock()
	changed := r.ensureLocked(key, total)
	r.mergeLocked(key, offset, items)
	r.mx.Unlock()

	if changed || len(items) > 0 {
		r.bump()
	}
}

// readWindow returns the items in [offset, offset+pageSize) clipped to the
// partition end. The second result is false when the partition is absent,
// the window starts past a non-empty partition, or any slot in the window is
// unset.
func (r *registry[T]) readWindow(key string, offset int, pageSize int) ([]T, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	partition, ok := r.partitions[key]
	if !ok || offset < 0 || pageSize <= 0 {
		return nil, false
	}

	if offset >= len(partition) {
		// An empty dataset has an empty, complete first page.
		if offset == 0 && len(partition) == 0 {
			return []T{}, true
		}
		return nil, false
	}

	end := min(offset+pageSize, len(partition))
	window := make([]T, 0, end-offset)
	for _, s := range partition[offset:end] {
		if !s.set {
			return nil, false
		}
		window = append(window, s.value)
	}

	return window, true
}

// length returns the declared total of the partition for key.
func (r *registry[T]) length(key string) (int, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	partition, ok := r.partitions[key]

	return len(partition), ok
}

// size returns the number of partitions.
func (r *registry[T]) size() int {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return len(r.partitions)
}

// clear drops every partition.
func (r *registry[T]) clear() {
	r.mx.Lock()
	r.partitions = make(map[string][]slot[T])
	r.mx.Unlock()

	r.bump()
}

func (r *registry[T]) ensureLocked(key string, total int) bool {
	if partition, ok := r.partitions[key]; ok && len(partition) == total {
		return false
	}

	r.partitions[key] = make([]slot[T], total)

	return true
}

func (r *registry[T]) mergeLocked(key string, offset int, items []T) {
	if len(items) == 0 {
		return
	}

	partition, ok := r.partitions[key]
	if !ok || offset < 0 || offset+len(items) > len(partition) {
		panic(fmt.Errorf("index out of range: cannot merge %d items at offset %d into partition '%s' of length %d",
			len(items), offset, key, len(partition)))
	}

	for i, item := range items {
		partition[offset+i] = slot[T]{value: item, set: true}
	}
}

func (r *registry[T]) bump() {
	r.version.Update(func(v uint64) uint64 { return v + 1 })
}
