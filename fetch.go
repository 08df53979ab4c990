package gopagecache

import "context"

// Request describes one page of a source.
type Request struct {
	// Page 1-based page number.
	Page int `json:"page"`
	// PageSize number of items per page.
	PageSize int `json:"pageSize"`
	// Args caller supplied filter arguments with observable wrappers
	// removed at the top level. Nil when absent.
	Args any `json:"args,omitempty"`
}

// Offset returns the index of the first item of the requested page.
func (r Request) Offset() int {
	return Offset(r.Page, r.PageSize)
}

// Result is what a fetch function returns on success.
type Result[T any] struct {
	// Total number of items matching the args upstream.
	Total int `json:"total"`
	// Items of the requested page, at most PageSize of them.
	Items []T `json:"items,omitempty"`
	// Data alias of Items, used when Items is nil.
	Data []T `json:"data,omitempty"`
}

// page returns the items carried by the result, or false if none of the
// item fields was set.
func (r *Result[T]) page() ([]T, bool) {
	if r.Items != nil {
		return r.Items, true
	}

	return r.Data, r.Data != nil
}

// FetchFunc loads one page from upstream. Returning ErrSkip (possibly
// wrapped) keeps the prior cached state, any other error is a fetch failure.
// ctx is cancelled when the view that triggered the fetch is closed.
type FetchFunc[T any] func(ctx context.Context, req Request) (*Result[T], error)

// SourceRef selects the source for a view: either a named source registered
// on the cache, or an inline fetch function with a registry private to the
// view.
type SourceRef[T any] struct {
	name string
	fn   FetchFunc[T]
}

// Named references a source registered with CreateSource.
func Named[T any](name string) SourceRef[T] {
	return SourceRef[T]{name: name}
}

// Inline references an anonymous fetch function. Inline sources have no
// directory entry and cannot be refreshed.
func Inline[T any](fn FetchFunc[T]) SourceRef[T] {
	return SourceRef[T]{fn: fn}
}

// IsInline reports whether the reference is an inline fetch function.
func (s SourceRef[T]) IsInline() bool {
	return s.fn != nil
}

// Name returns the source name, empty for inline sources.
func (s SourceRef[T]) Name() string {
	return s.name
}
