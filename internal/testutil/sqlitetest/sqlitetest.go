// Package sqlitetest opens throwaway SQLite databases for tests.
package sqlitetest

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/BrandonDHaskell/Portunus/relay/internal/db"
)

// Open returns an in-memory SQLite connection with the same PRAGMAs and
// schema as production. It is closed when the test finishes.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own named in-memory database. The shared cache
	// keeps it alive for as long as the pool holds a connection.
	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := sql.Open("sqlite", db.DSN(name, "mode=memory&cache=shared"))
	if err != nil {
		t.Fatalf("sqlitetest: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("sqlitetest: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("sqlitetest: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// Writer returns a db.Worker backed by conn, closed when the test finishes.
func Writer(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return w
}
