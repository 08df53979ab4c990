package gopagecache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSource is returned when a source name was never registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrMalformedResult is returned when a fetch function reports success
	// with a payload that cannot be merged into the registry.
	ErrMalformedResult = errors.New("malformed fetch result")
	// ErrFetchFailed matches every *FetchError via errors.Is.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrUnhashableArgs is returned when args cannot be turned into a
	// signature key.
	ErrUnhashableArgs = errors.New("unhashable args")
	// ErrSkip may be returned by a fetch function to signal "ignore me, keep
	// prior state", e.g. for a superseded request. It is never treated as a
	// failure by views.
	ErrSkip = errors.New("skip fetch result")
)

// FetchError wraps an error returned by a fetch function.
type FetchError struct {
	// Source name, empty for inline sources.
	Source string
	// Key signature key of the request.
	Key string
	// Request that failed.
	Request Request
	// Err the fetch function error.
	Err error
}

func (e *FetchError) Error() string {
	name := e.Source
	if name == "" {
		name = "<inline>"
	}

	return fmt.Sprintf("cannot fetch page %d (size %d) of source '%s': %v",
		e.Request.Page, e.Request.PageSize, name, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrFetchFailed as a match so callers can classify failures
// without caring about the cause.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

func unknownSource(name string) error {
	return fmt.Errorf("%w: no source with the name '%s' found", ErrUnknownSource, name)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResult, fmt.Sprintf(format, args...))
}
