package gormsource

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Alp4ka/gopagecache"
)

type user struct {
	ID   uint
	Name string
	Age  int
}

func Test_Fetcher_WithMethods(t *testing.T) {
	f := (*Fetcher[user])(nil).
		WithSort(OrderBy{Column: "id", Direction: DirectionASC}).
		WithColumnMapping(ColumnMapping{"id": "users.id"})

	require.Equal(t, Orderings{{Column: "id", Direction: DirectionASC}}, f.sort)
	require.Equal(t, ColumnMapping{"id": "users.id"}, f.mapping)

	_, err := f.Fetch(context.Background(), gopagecache.Request{Page: 1, PageSize: 1})
	require.ErrorContains(t, err, "nil database")
}

func Test_Fetcher_Fetch(t *testing.T) {
	tests := []struct {
		name          string
		req           gopagecache.Request
		sort          Orderings
		countQuery    string
		countArgs     []driver.Value
		total         int
		expectedQuery string
		expectedArgs  []driver.Value
		expectedItems []user
	}{
		{
			name:          "first page without filter",
			req:           gopagecache.Request{Page: 1, PageSize: 3},
			sort:          Orderings{{Column: "id", Direction: DirectionASC}},
			countQuery:    "^SELECT count\\(\\*\\) FROM [`'\"]users[`'\"]$",
			total:         8,
			expectedQuery: "^SELECT \\* FROM [`'\"]users[`'\"] ORDER BY id ASC LIMIT 3$",
			expectedItems: []user{{1, "a", 20}, {2, "b", 21}, {3, "c", 22}},
		},
		{
			name: "filtered middle page with filter sort",
			req: gopagecache.Request{Page: 2, PageSize: 2, Args: Filter{
				Where: []Condition{{Column: "age", Operator: OperatorGT, Value: 30}},
				Sort:  []string{"name desc"},
			}},
			sort:          Orderings{{Column: "id", Direction: DirectionASC}},
			countQuery:    "^SELECT count\\(\\*\\) FROM [`'\"]users[`'\"] WHERE age > (?:\\$1|\\?)$",
			countArgs:     []driver.Value{30},
			total:         3,
			expectedQuery: "^SELECT \\* FROM [`'\"]users[`'\"] WHERE age > (?:\\$1|\\?) ORDER BY name DESC LIMIT 2 OFFSET 2$",
			expectedArgs:  []driver.Value{30},
			expectedItems: []user{{5, "e", 33}},
		},
		{
			name: "any of groups",
			req: gopagecache.Request{Page: 1, PageSize: 3, Args: &Filter{
				Where: []Condition{{Column: "age", Operator: OperatorGT, Value: 30}},
				AnyOf: [][]Condition{
					{{Column: "name", Operator: OperatorEq, Value: "d"}},
					{{Column: "name", Operator: OperatorEq, Value: "e"}},
				},
			}},
			sort:          Orderings{{Column: "id", Direction: DirectionASC}},
			countQuery:    "^SELECT count\\(\\*\\) FROM [`'\"]users[`'\"] WHERE age > .+ AND .*name = .+ OR name = .+$",
			countArgs:     []driver.Value{30, "d", "e"},
			total:         1,
			expectedQuery: "^SELECT \\* FROM [`'\"]users[`'\"] WHERE age > .+ AND .*name = .+ OR name = .+ ORDER BY id ASC LIMIT 3$",
			expectedArgs:  []driver.Value{30, "d", "e"},
			expectedItems: []user{{5, "e", 33}},
		},
	}

	for _, dialect := range _dialects {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s %s", dialect.name, tt.name), func(t *testing.T) {
				db, dbMock := newGORMMock(t, dialect)

				count := dbMock.ExpectQuery(tt.countQuery)
				if len(tt.countArgs) > 0 {
					count = count.WithArgs(tt.countArgs...)
				}
				count.WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.total))

				expectation := dbMock.ExpectQuery(tt.expectedQuery)
				if len(tt.expectedArgs) > 0 {
					expectation = expectation.WithArgs(tt.expectedArgs...)
				}
				expectation.WillReturnRows(userRows(tt.expectedItems...))

				res, err := NewFetcher[user](db).WithSort(tt.sort...).Fetch(context.Background(), tt.req)
				require.NoError(t, err)
				assert.Equal(t, tt.total, res.Total)
				assert.Equal(t, tt.expectedItems, res.Items)

				assert.NoError(t, dbMock.ExpectationsWereMet())
			})
		}
	}
}

// userRows builds fresh rows per expectation: sqlmock rows keep a read
// position.
func userRows(users ...user) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "age"})
	for _, u := range users {
		rows.AddRow(u.ID, u.Name, u.Age)
	}

	return rows
}

func Test_Fetcher_Fetch_PastEnd(t *testing.T) {
	for _, dialect := range _dialects {
		t.Run(dialect.name, func(t *testing.T) {
			db, dbMock := newGORMMock(t, dialect)

			dbMock.ExpectQuery("^SELECT count\\(\\*\\) FROM [`'\"]users[`'\"]$").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

			res, err := NewFetcher[user](db).
				WithSort(OrderBy{Column: "id", Direction: DirectionASC}).
				Fetch(context.Background(), gopagecache.Request{Page: 3, PageSize: 2})
			require.NoError(t, err)
			require.Equal(t, 2, res.Total)
			require.NotNil(t, res.Items)
			require.Empty(t, res.Items)

			assert.NoError(t, dbMock.ExpectationsWereMet())
		})
	}
}

func Test_Fetcher_Fetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher func(db *gorm.DB) *Fetcher[user]
		req     gopagecache.Request
		wantErr string
	}{
		{
			name:    "no ordering",
			fetcher: func(db *gorm.DB) *Fetcher[user] { return NewFetcher[user](db) },
			req:     gopagecache.Request{Page: 1, PageSize: 2},
			wantErr: "empty ordering list",
		},
		{
			name: "unknown sort alias",
			fetcher: func(db *gorm.DB) *Fetcher[user] {
				return NewFetcher[user](db).WithColumnMapping(ColumnMapping{"id": "users.id"})
			},
			req:     gopagecache.Request{Page: 1, PageSize: 2, Args: Filter{Sort: []string{"ib asc"}}},
			wantErr: "closest: 'id'",
		},
		{
			name: "unmapped filter column",
			fetcher: func(db *gorm.DB) *Fetcher[user] {
				return NewFetcher[user](db).
					WithColumnMapping(ColumnMapping{"id": "users.id"}).
					WithSort(OrderBy{Column: "users.id", Direction: DirectionASC})
			},
			req:     gopagecache.Request{Page: 1, PageSize: 2, Args: Filter{Where: []Condition{{Column: "age", Operator: OperatorEq, Value: 1}}}},
			wantErr: "invalid filter",
		},
		{
			name: "zero page size",
			fetcher: func(db *gorm.DB) *Fetcher[user] {
				return NewFetcher[user](db).WithSort(OrderBy{Column: "id", Direction: DirectionASC})
			},
			req:     gopagecache.Request{Page: 1},
			wantErr: "invalid window",
		},
		{
			name: "undecodable args",
			fetcher: func(db *gorm.DB) *Fetcher[user] {
				return NewFetcher[user](db).WithSort(OrderBy{Column: "id", Direction: DirectionASC})
			},
			req:     gopagecache.Request{Page: 1, PageSize: 2, Args: map[string]any{"limit": 5}},
			wantErr: "cannot decode filter args",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, dbMock := newGORMMock(t, _mysql)

			_, err := tt.fetcher(db).Fetch(context.Background(), tt.req)
			require.ErrorContains(t, err, tt.wantErr)
			assert.NoError(t, dbMock.ExpectationsWereMet(), "no query is issued")
		})
	}
}

func Test_Fetcher_Fetch_QueryError(t *testing.T) {
	db, dbMock := newGORMMock(t, _postgres)

	cause := errors.New("connection reset")
	dbMock.ExpectQuery("^SELECT count").WillReturnError(cause)

	_, err := NewFetcher[user](db).
		WithSort(OrderBy{Column: "id", Direction: DirectionASC}).
		Fetch(context.Background(), gopagecache.Request{Page: 1, PageSize: 2})
	require.ErrorIs(t, err, cause)
	require.ErrorContains(t, err, "cannot count rows")
}

func Test_DecodeFilter(t *testing.T) {
	filter := &Filter{Sort: []string{"id asc"}}

	got, err := DecodeFilter(nil)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = DecodeFilter((*Filter)(nil))
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = DecodeFilter(filter)
	require.NoError(t, err)
	require.Same(t, filter, got)

	got, err = DecodeFilter(*filter)
	require.NoError(t, err)
	require.Equal(t, filter, got)

	got, err = DecodeFilter(map[string]any{
		"where": []any{map[string]any{"c": "age", "o": ">", "v": 30}},
		"sort":  []string{"id asc"},
	})
	require.NoError(t, err)
	require.Equal(t, &Filter{
		Where: []Condition{{Column: "age", Operator: OperatorGT, Value: float64(30)}},
		Sort:  []string{"id asc"},
	}, got)

	_, err = DecodeFilter(map[string]any{"unknown": true})
	require.Error(t, err)
}

func Test_Fetcher_WithCache(t *testing.T) {
	db, dbMock := newGORMMock(t, _mysql)

	dbMock.ExpectQuery("^SELECT count\\(\\*\\) FROM `users` WHERE age > \\?$").
		WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	dbMock.ExpectQuery("^SELECT \\* FROM `users` WHERE age > \\? ORDER BY id ASC LIMIT 2 OFFSET 2$").
		WithArgs(30).
		WillReturnRows(userRows(user{4, "d", 33}, user{5, "e", 34}))

	cache := gopagecache.New[user](gopagecache.DefaultConfig().WithLogger(gopagecache.Discard))
	cache.CreateSource("users", NewFetcher[user](db).
		WithSort(OrderBy{Column: "id", Direction: DirectionASC}).
		FetchFunc())

	source, err := cache.Source("users")
	require.NoError(t, err)

	req := gopagecache.Request{
		Page:     2,
		PageSize: 2,
		Args:     Filter{Where: []Condition{{Column: "age", Operator: OperatorGT, Value: 30}}},
	}
	for range 2 {
		items, err := source.FetchRange(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, []user{{4, "d", 33}, {5, "e", 34}}, items)
	}

	assert.NoError(t, dbMock.ExpectationsWereMet())
}
