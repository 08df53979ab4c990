package gormsource

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// tDialect opens a gorm dialector over a sqlmock connection.
type tDialect struct {
	name string
	open func(conn *sql.DB) gorm.Dialector
}

var (
	_mysql = tDialect{
		name: "mysql",
		open: func(conn *sql.DB) gorm.Dialector {
			return mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true})
		},
	}
	_postgres = tDialect{
		name: "postgres",
		open: func(conn *sql.DB) gorm.Dialector {
			return postgres.New(postgres.Config{Conn: conn})
		},
	}

	_dialects = []tDialect{_mysql, _postgres}
)

func newGORMMock(t *testing.T, dialect tDialect) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(dialect.open(conn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	return db, mock
}
