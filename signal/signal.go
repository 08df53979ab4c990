// Package signal provides the minimal observable-value primitives used by
// gopagecache views: mutable cells, derived values and watchers.
//
// Subscribers are invoked synchronously on the goroutine performing the
// change, after internal locks are released. Keep callbacks short; schedule
// heavy work elsewhere.
package signal

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Observable is anything that can notify about changes.
type Observable interface {
	// Subscribe registers fn and returns a function removing it.
	Subscribe(fn func()) (stop func())
}

// Unwrapper is implemented by wrappers carrying a plain value.
type Unwrapper interface {
	Unwrap() any
}

// Unwrap follows Unwrapper values until a plain value is reached.
func Unwrap(v any) any {
	for {
		u, ok := v.(Unwrapper)
		if !ok {
			return v
		}
		v = u.Unwrap()
	}
}

type subscribers struct {
	mx   sync.Mutex
	next uint64
	fns  map[uint64]func()
}

func (s *subscribers) add(fn func()) func() {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.fns == nil {
		s.fns = make(map[uint64]func())
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mx.Lock()
			delete(s.fns, id)
			s.mx.Unlock()
		})
	}
}

func (s *subscribers) notify() {
	s.mx.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mx.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Cell is a mutable observable value.
type Cell[T any] struct {
	mx    sync.RWMutex
	value T
	equal func(a, b T) bool
	subs  subscribers
}

// NewCell creates a cell holding v. Changes are detected with
// reflect.DeepEqual unless WithEqual is used.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{value: v}
}

// WithEqual overrides the change detection function.
func (c *Cell[T]) WithEqual(equal func(a, b T) bool) *Cell[T] {
	if c == nil {
		c = new(Cell[T])
	}

	c.equal = equal

	return c
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mx.RLock()
	defer c.mx.RUnlock()

	return c.value
}

// Set stores v and notifies subscribers if the value changed.
func (c *Cell[T]) Set(v T) {
	c.mx.Lock()
	changed := !c.isEqual(c.value, v)
	c.value = v
	c.mx.Unlock()

	if changed {
		c.subs.notify()
	}
}

// Update atomically replaces the value with fn(current).
func (c *Cell[T]) Update(fn func(T) T) {
	c.mx.Lock()
	v := fn(c.value)
	changed := !c.isEqual(c.value, v)
	c.value = v
	c.mx.Unlock()

	if changed {
		c.subs.notify()
	}
}

// Subscribe implements Observable.
func (c *Cell[T]) Subscribe(fn func()) func() {
	return c.subs.add(fn)
}

// Unwrap implements Unwrapper.
func (c *Cell[T]) Unwrap() any {
	return c.Get()
}

// MarshalJSON encodes the held value, never the cell bookkeeping.
func (c *Cell[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Get())
}

func (c *Cell[T]) isEqual(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}

	return reflect.DeepEqual(a, b)
}

// Computed is a derived value recomputed from fn on every Get. Subscribers
// are notified whenever any dependency changes.
type Computed[T any] struct {
	fn   func() T
	deps []Observable
}

// NewComputed creates a derived value over deps.
func NewComputed[T any](fn func() T, deps ...Observable) *Computed[T] {
	return &Computed[T]{fn: fn, deps: deps}
}

// Get evaluates the derivation.
func (c *Computed[T]) Get() T {
	return c.fn()
}

// Subscribe implements Observable.
func (c *Computed[T]) Subscribe(fn func()) func() {
	return Watch(fn, c.deps...)
}

// Unwrap implements Unwrapper.
func (c *Computed[T]) Unwrap() any {
	return c.Get()
}

// MarshalJSON encodes the derived value.
func (c *Computed[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Get())
}

// Observables returns every observable reachable from v: v itself, values
// behind pointers and interfaces, map values, slice and array elements,
// exported struct fields and the values observables unwrap to.
func Observables(v any) []Observable {
	var (
		found []Observable
		seen  = make(map[uintptr]bool)
		walk  func(rv reflect.Value)
	)

	walk = func(rv reflect.Value) {
		switch rv.Kind() {
		case reflect.Invalid:
			return
		case reflect.Interface:
			if !rv.IsNil() {
				walk(rv.Elem())
			}
			return
		case reflect.Pointer, reflect.Map, reflect.Slice:
			if rv.IsNil() {
				return
			}
		}

		if rv.Kind() == reflect.Pointer {
			if seen[rv.Pointer()] {
				return
			}
			seen[rv.Pointer()] = true
		}

		if rv.CanInterface() {
			if obs, ok := rv.Interface().(Observable); ok {
				found = append(found, obs)
				if u, ok := obs.(Unwrapper); ok {
					walk(reflect.ValueOf(u.Unwrap()))
				}
				return
			}
		}

		switch rv.Kind() {
		case reflect.Pointer:
			walk(rv.Elem())
		case reflect.Map:
			if scalar(rv.Type().Elem().Kind()) {
				return
			}
			iter := rv.MapRange()
			for iter.Next() {
				walk(iter.Value())
			}
		case reflect.Slice, reflect.Array:
			if scalar(rv.Type().Elem().Kind()) {
				return
			}
			for i := range rv.Len() {
				walk(rv.Index(i))
			}
		case reflect.Struct:
			for i := range rv.NumField() {
				if rv.Type().Field(i).IsExported() {
					walk(rv.Field(i))
				}
			}
		}
	}
	walk(reflect.ValueOf(v))

	return found
}

func scalar(k reflect.Kind) bool {
	return k >= reflect.Bool && k <= reflect.Complex128 || k == reflect.String
}

// Watch runs fn whenever any of deps changes and returns a function
// stopping all subscriptions.
func Watch(fn func(), deps ...Observable) (stop func()) {
	stops := make([]func(), 0, len(deps))
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		stops = append(stops, dep.Subscribe(fn))
	}

	return func() {
		for _, s := range stops {
			s()
		}
	}
}

var (
	_ Observable = (*Cell[int])(nil)
	_ Observable = (*Computed[int])(nil)
	_ Unwrapper  = (*Cell[int])(nil)
	_ Unwrapper  = (*Computed[int])(nil)
)
