package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

// ErrNotFound is returned when no product matches a slug.
var ErrNotFound = errors.New("product not found")

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe identifier from a product name.
func Slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// UpsertInputs stores inputs under their subject slug, replacing comparisons,
// auxiliary analyses and quality flags. A missing slug is derived from the name.
// Returns the slug used.
func (db *DB) UpsertInputs(in audit.Inputs) (string, error) {
	if err := in.Validate(); err != nil {
		return "", eris.Wrap(err, "invalid inputs")
	}
	slug := in.Subject.Slug
	if slug == "" {
		slug = Slugify(in.Subject.Name)
	}
	if slug == "" {
		return "", eris.Errorf("cannot derive slug from name %q", in.Subject.Name)
	}

	tags, err := json.Marshal(in.Subject.Tags)
	if err != nil {
		return "", eris.Wrap(err, "encoding tags")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", eris.Wrap(err, "begin upsert")
	}
	defer tx.Rollback()

	s, snap := in.Subject, in.Snapshot
	var id int64
	err = tx.QueryRow(
		`INSERT INTO products (slug, name, tags, price, release_status, description, url,
			followers, reviews, wishlists, quality_score,
			revenue_estimate, revenue_low, revenue_high, revenue_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name, tags = excluded.tags, price = excluded.price,
			release_status = excluded.release_status, description = excluded.description,
			url = excluded.url, followers = excluded.followers, reviews = excluded.reviews,
			wishlists = excluded.wishlists, quality_score = excluded.quality_score,
			revenue_estimate = excluded.revenue_estimate, revenue_low = excluded.revenue_low,
			revenue_high = excluded.revenue_high, revenue_confidence = excluded.revenue_confidence,
			updated_at = datetime('now')
		RETURNING id`,
		slug, s.Name, string(tags), s.Price, s.ReleaseStatus, s.Description, s.URL,
		snap.Followers, snap.Reviews, snap.Wishlists, snap.QualityScore,
		snap.Revenue.Estimate, snap.Revenue.Low, snap.Revenue.High, snap.Revenue.Confidence,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "upserting product %s", slug)
	}

	for _, table := range []string{"comparisons", "auxiliary_analyses", "quality_flags"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE product_id = ?", id); err != nil {
			return "", eris.Wrapf(err, "clearing %s", table)
		}
	}

	for i, c := range in.Comparisons {
		_, err := tx.Exec(
			`INSERT INTO comparisons (product_id, position, name, followers, reviews, wishlists,
				quality_score, revenue_estimate, revenue_low, revenue_high, revenue_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, c.Name, c.Snapshot.Followers, c.Snapshot.Reviews, c.Snapshot.Wishlists,
			c.Snapshot.QualityScore, c.Snapshot.Revenue.Estimate, c.Snapshot.Revenue.Low,
			c.Snapshot.Revenue.High, c.Snapshot.Revenue.Confidence,
		)
		if err != nil {
			return "", eris.Wrapf(err, "inserting comparison %s", c.Name)
		}
	}
	for _, a := range in.Auxiliary {
		if err := putAuxiliary(tx, id, a); err != nil {
			return "", err
		}
	}
	for _, f := range in.QualityFlags {
		if err := putQualityFlag(tx, id, f); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "commit upsert")
	}
	return slug, nil
}

// LoadInputs reads the stored inputs for slug.
func (db *DB) LoadInputs(slug string) (*audit.Inputs, error) {
	in := &audit.Inputs{}
	s, snap := &in.Subject, &in.Snapshot

	var id int64
	var tags, status, desc, url, confidence sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, slug, name, tags, price, release_status, description, url,
			followers, reviews, wishlists, quality_score,
			revenue_estimate, revenue_low, revenue_high, revenue_confidence
		FROM products WHERE slug = ?`, slug,
	).Scan(&id, &s.Slug, &s.Name, &tags, &s.Price, &status, &desc, &url,
		&snap.Followers, &snap.Reviews, &snap.Wishlists, &snap.QualityScore,
		&snap.Revenue.Estimate, &snap.Revenue.Low, &snap.Revenue.High, &confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading product %s", slug)
	}
	s.ReleaseStatus, s.Description, s.URL = status.String, desc.String, url.String
	snap.Revenue.Confidence = confidence.String
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &s.Tags); err != nil {
			return nil, eris.Wrapf(err, "decoding tags of %s", slug)
		}
	}

	if in.Comparisons, err = db.comparisons(id); err != nil {
		return nil, err
	}
	if in.Auxiliary, err = db.auxiliary(id); err != nil {
		return nil, err
	}
	if in.QualityFlags, err = db.qualityFlags(id); err != nil {
		return nil, err
	}
	return in, nil
}

func (db *DB) comparisons(productID int64) ([]audit.Comparison, error) {
	rows, err := db.conn.Query(
		`SELECT name, followers, reviews, wishlists, quality_score,
			revenue_estimate, revenue_low, revenue_high, revenue_confidence
		FROM comparisons WHERE product_id = ? ORDER BY position`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "querying comparisons")
	}
	defer rows.Close()

	var out []audit.Comparison
	for rows.Next() {
		var c audit.Comparison
		var confidence sql.NullString
		if err := rows.Scan(&c.Name, &c.Snapshot.Followers, &c.Snapshot.Reviews, &c.Snapshot.Wishlists,
			&c.Snapshot.QualityScore, &c.Snapshot.Revenue.Estimate, &c.Snapshot.Revenue.Low,
			&c.Snapshot.Revenue.High, &confidence); err != nil {
			return nil, eris.Wrap(err, "scanning comparison")
		}
		c.Snapshot.Revenue.Confidence = confidence.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) auxiliary(productID int64) ([]audit.AuxiliaryAnalysis, error) {
	rows, err := db.conn.Query(
		"SELECT kind, source, record FROM auxiliary_analyses WHERE product_id = ? ORDER BY kind, source",
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "querying auxiliary analyses")
	}
	defer rows.Close()

	var out []audit.AuxiliaryAnalysis
	for rows.Next() {
		var a audit.AuxiliaryAnalysis
		var record string
		if err := rows.Scan(&a.Kind, &a.Source, &record); err != nil {
			return nil, eris.Wrap(err, "scanning auxiliary analysis")
		}
		if err := json.Unmarshal([]byte(record), &a.Record); err != nil {
			return nil, eris.Wrapf(err, "decoding %s analysis", a.Kind)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) qualityFlags(productID int64) ([]audit.QualityFlag, error) {
	rows, err := db.conn.Query(
		"SELECT source, severity, placeholder, note FROM quality_flags WHERE product_id = ? ORDER BY source",
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "querying quality flags")
	}
	defer rows.Close()

	var out []audit.QualityFlag
	for rows.Next() {
		var f audit.QualityFlag
		var note sql.NullString
		if err := rows.Scan(&f.Source, &f.Severity, &f.Placeholder, &note); err != nil {
			return nil, eris.Wrap(err, "scanning quality flag")
		}
		f.Note = note.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putAuxiliary(ex execer, productID int64, a audit.AuxiliaryAnalysis) error {
	record, err := json.Marshal(a.Record)
	if err != nil {
		return eris.Wrapf(err, "encoding %s analysis", a.Kind)
	}
	_, err = ex.Exec(
		`INSERT INTO auxiliary_analyses (product_id, kind, source, record) VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, kind, source) DO UPDATE SET
			record = excluded.record, collected_at = datetime('now')`,
		productID, a.Kind, a.Source, string(record),
	)
	if err != nil {
		return eris.Wrapf(err, "storing %s analysis", a.Kind)
	}
	return nil
}

func putQualityFlag(ex execer, productID int64, f audit.QualityFlag) error {
	severity := f.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}
	_, err := ex.Exec(
		`INSERT INTO quality_flags (product_id, source, severity, placeholder, note) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(product_id, source) DO UPDATE SET
			severity = excluded.severity, placeholder = excluded.placeholder,
			note = excluded.note, flagged_at = datetime('now')`,
		productID, f.Source, severity, f.Placeholder, f.Note,
	)
	if err != nil {
		return eris.Wrapf(err, "storing %s quality flag", f.Source)
	}
	return nil
}

func (db *DB) productID(slug string) (int64, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM products WHERE slug = ?", slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, eris.Wrapf(err, "looking up %s", slug)
	}
	return id, nil
}

// PutAuxiliary adds or replaces one auxiliary analysis, keyed by kind and source.
func (db *DB) PutAuxiliary(slug string, a audit.AuxiliaryAnalysis) error {
	id, err := db.productID(slug)
	if err != nil {
		return err
	}
	return putAuxiliary(db.conn, id, a)
}

// PutQualityFlag adds or replaces the quality flag of one source.
func (db *DB) PutQualityFlag(slug string, f audit.QualityFlag) error {
	id, err := db.productID(slug)
	if err != nil {
		return err
	}
	return putQualityFlag(db.conn, id, f)
}

// ClearQualityFlag removes the flag of source, if any.
func (db *DB) ClearQualityFlag(slug, source string) error {
	id, err := db.productID(slug)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec("DELETE FROM quality_flags WHERE product_id = ? AND source = ?", id, source)
	if err != nil {
		return eris.Wrapf(err, "clearing %s quality flag", source)
	}
	return nil
}

// UpdateDescription stores a collected storefront description.
func (db *DB) UpdateDescription(slug, description string) error {
	res, err := db.conn.Exec(
		"UPDATE products SET description = ?, updated_at = datetime('now') WHERE slug = ?",
		description, slug,
	)
	if err != nil {
		return eris.Wrapf(err, "updating description of %s", slug)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProducts returns every stored product ordered by name.
func (db *DB) ListProducts() ([]ProductSummary, error) {
	rows, err := db.conn.Query(
		`SELECT p.slug, p.name, p.price, COALESCE(p.release_status, ''), p.updated_at,
			(SELECT COUNT(*) FROM comparisons c WHERE c.product_id = p.id),
			(SELECT COUNT(*) FROM quality_flags f WHERE f.product_id = p.id
				AND (f.severity = 'serious' OR f.placeholder = 1))
		FROM products p ORDER BY p.name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "listing products")
	}
	defer rows.Close()

	var out []ProductSummary
	for rows.Next() {
		var p ProductSummary
		if err := rows.Scan(&p.Slug, &p.Name, &p.Price, &p.ReleaseStatus, &p.UpdatedAt,
			&p.Comparisons, &p.SeriousFlags); err != nil {
			return nil, eris.Wrap(err, "scanning product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM products", &s.Products},
		{"SELECT COUNT(*) FROM comparisons", &s.Comparisons},
		{"SELECT COUNT(*) FROM auxiliary_analyses", &s.AuxiliaryAnalyses},
		{"SELECT COUNT(*) FROM quality_flags", &s.QualityFlags},
		{"SELECT COUNT(*) FROM quality_flags WHERE severity = 'serious' OR placeholder = 1", &s.SeriousFlags},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "reading stats")
		}
	}

	return s, nil
}
