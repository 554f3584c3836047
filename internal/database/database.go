// Package database stores product audit inputs in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// busyTimeout lets the CLI and the web server share one database file without
// failing on a concurrent write lock.
const busyTimeout = 5 * time.Second

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
}

// Open creates or opens the product store at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, eris.Wrap(err, "opening database")
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, eris.Wrapf(err, "connecting to %s", dbPath)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "migrating schema")
	}

	return &DB{conn: conn, path: dbPath}, nil
}

func dsn(dbPath string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return dbPath + "?" + q.Encode()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
