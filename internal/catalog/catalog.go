// Package catalog keeps a SQLite ledger of produced yearly lake rasters.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohammed-shakir/lakeextract/internal/lake"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// Product is one catalogued yearly raster. Lake and year identify it.
type Product struct {
	LakeID    string
	Year      int
	Path      string
	Tile      string
	Tag       string
	ObjectKey string
	CreatedAt time.Time
}

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "products table",
		SQL: `
CREATE TABLE IF NOT EXISTS products (
    lake_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    path TEXT NOT NULL,
    tile TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (lake_id, year)
);`,
	},
	{
		Version:     2,
		Description: "generation tag and published object key",
		SQL: `
ALTER TABLE products ADD COLUMN tag TEXT NOT NULL DEFAULT '';
ALTER TABLE products ADD COLUMN object_key TEXT NOT NULL DEFAULT '';`,
	},
}

const upsertProduct = `
INSERT INTO products (lake_id, year, path, tile, tag, object_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(lake_id, year) DO UPDATE SET
    path = excluded.path,
    tile = excluded.tile,
    tag = excluded.tag,
    object_key = excluded.object_key,
    created_at = excluded.created_at`

type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens (creating if needed) the sqlite file at path and migrates it.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)
	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: logger.OrDiscard(log), now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)`); err != nil {
		return fmt.Errorf("catalog: ensure migrations table: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("catalog: applied migrations: %w", err)
	}
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog: migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, s.now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("catalog: commit migration %d: %w", m.Version, err)
		}
		s.log.DebugContext(ctx, "catalog migration applied", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// RecordProduct inserts p, replacing any earlier row for the same lake and year.
func (s *Store) RecordProduct(ctx context.Context, p Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, upsertProduct, p.LakeID, p.Year, p.Path, p.Tile, p.Tag, p.ObjectKey, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("catalog: record %s/%d: %w", p.LakeID, p.Year, err)
	}
	return nil
}

// Record implements lake.Recorder: every product of the report is upserted
// in one transaction.
func (s *Store) Record(ctx context.Context, r lake.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertProduct)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("catalog: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	created := r.Finished
	if created.IsZero() {
		created = s.now()
	}
	for i, p := range r.Products {
		key := ""
		if i < len(r.Published) {
			key = r.Published[i]
		}
		if _, err := stmt.ExecContext(ctx, r.LakeID, p.Year, p.Path, p.Tile, r.Tag, key,
			created.UTC().Format(time.RFC3339Nano)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog: record %s/%d: %w", r.LakeID, p.Year, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	s.log.InfoContext(ctx, "products catalogued", "products", len(r.Products))
	return nil
}

// Products lists the catalogued rasters of lakeID by year.
func (s *Store) Products(ctx context.Context, lakeID string) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lake_id, year, path, tile, tag, object_key, created_at
		FROM products
		WHERE lake_id = ?
		ORDER BY year`, lakeID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query %s: %w", lakeID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Product
	for rows.Next() {
		var (
			p       Product
			tile    sql.NullString
			created string
		)
		if err := rows.Scan(&p.LakeID, &p.Year, &p.Path, &tile, &p.Tag, &p.ObjectKey, &created); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		p.Tile = tile.String
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			p.CreatedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
