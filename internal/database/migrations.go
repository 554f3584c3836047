package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "products and comparisons",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    tags TEXT,
    price REAL DEFAULT 0,
    release_status TEXT,
    description TEXT,
    url TEXT,
    followers INTEGER DEFAULT 0,
    reviews INTEGER DEFAULT 0,
    wishlists INTEGER DEFAULT 0,
    quality_score REAL DEFAULT 0,
    revenue_estimate REAL DEFAULT 0,
    revenue_low REAL DEFAULT 0,
    revenue_high REAL DEFAULT 0,
    revenue_confidence TEXT,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS comparisons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    followers INTEGER DEFAULT 0,
    reviews INTEGER DEFAULT 0,
    wishlists INTEGER DEFAULT 0,
    quality_score REAL DEFAULT 0,
    revenue_estimate REAL DEFAULT 0,
    revenue_low REAL DEFAULT 0,
    revenue_high REAL DEFAULT 0,
    revenue_confidence TEXT
);

CREATE INDEX IF NOT EXISTS idx_comparisons_product ON comparisons(product_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "collected analyses and quality flags",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS auxiliary_analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    record TEXT NOT NULL,
    collected_at TEXT DEFAULT (datetime('now')),
    UNIQUE(product_id, kind, source)
);

CREATE TABLE IF NOT EXISTS quality_flags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    source TEXT NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('info', 'serious')),
    placeholder INTEGER DEFAULT 0,
    note TEXT,
    flagged_at TEXT DEFAULT (datetime('now')),
    UNIQUE(product_id, source)
);

CREATE INDEX IF NOT EXISTS idx_auxiliary_product ON auxiliary_analyses(product_id);
CREATE INDEX IF NOT EXISTS idx_quality_flags_product ON quality_flags(product_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
