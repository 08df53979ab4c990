package gormsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/Alp4ka/gopagecache"
)

// Fetcher loads pages of T from a gorm query. Request args are decoded as a
// Filter; every page costs one COUNT and one SELECT ... LIMIT/OFFSET.
type Fetcher[T any] struct {
	db      *gorm.DB
	sort    Orderings
	mapping ColumnMapping
}

// NewFetcher returns a fetcher over db. When db has neither a table nor a
// model set, T is used as the model.
func NewFetcher[T any](db *gorm.DB) *Fetcher[T] {
	return &Fetcher[T]{db: db}
}

// WithSort sets the ordering used when the filter has no Sort.
func (f *Fetcher[T]) WithSort(orderings ...OrderBy) *Fetcher[T] {
	if f == nil {
		f = new(Fetcher[T])
	}

	f.sort = orderings

	return f
}

// WithColumnMapping restricts filter and sort columns to the aliases of
// mapping.
func (f *Fetcher[T]) WithColumnMapping(mapping ColumnMapping) *Fetcher[T] {
	if f == nil {
		f = new(Fetcher[T])
	}

	f.mapping = mapping

	return f
}

// FetchFunc returns f.Fetch as a gopagecache.FetchFunc.
func (f *Fetcher[T]) FetchFunc() gopagecache.FetchFunc[T] {
	return f.Fetch
}

// Fetch implements gopagecache.FetchFunc.
func (f *Fetcher[T]) Fetch(ctx context.Context, req gopagecache.Request) (*gopagecache.Result[T], error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("cannot fetch: nil database")
	}

	window := NewWindow(req.Page, req.PageSize)
	if err := window.validate(); err != nil {
		return nil, fmt.Errorf("cannot fetch: invalid window: %w", err)
	}

	filter, err := DecodeFilter(req.Args)
	if err != nil {
		return nil, err
	}

	orderings, err := f.orderings(filter)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch: %w", err)
	}

	where, err := filter.expression(f.mapping)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch: invalid filter: %w", err)
	}

	query := f.db.WithContext(ctx)
	if query.Statement.Table == "" && query.Statement.Model == nil {
		query = query.Model(new(T))
	}
	if where != nil {
		query = query.Clauses(where)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err = query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("cannot count rows: %w", err)
	}

	items := make([]T, 0, window.GetLimit())
	if int64(window.GetOffset()) >= total {
		return &gopagecache.Result[T]{Total: int(total), Items: items}, nil
	}

	if err = window.Apply(orderings.Apply(query)).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("cannot find rows: %w", err)
	}

	return &gopagecache.Result[T]{Total: int(total), Items: items}, nil
}

func (f *Fetcher[T]) orderings(filter *Filter) (Orderings, error) {
	orderings := f.sort
	if filter != nil && len(filter.Sort) > 0 {
		var err error
		orderings, err = ParseSort(filter.Sort, f.mapping)
		if err != nil {
			return nil, err
		}
	}

	if err := orderings.validate(); err != nil {
		return nil, err
	}

	return orderings, nil
}

// DecodeFilter converts request args into a Filter. Filter and *Filter are
// used as is, nil means no filter, any other value must be JSON shaped like
// a Filter.
func DecodeFilter(args any) (*Filter, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case *Filter:
		return v, nil
	case Filter:
		return &v, nil
	}

	if lo.IsNil(args) {
		return nil, nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("cannot encode filter args: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	filter := new(Filter)
	if err = dec.Decode(filter); err != nil {
		return nil, fmt.Errorf("cannot decode filter args: %w", err)
	}

	return filter, nil
}
