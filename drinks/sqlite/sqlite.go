// Package sqlite provides a drinks.Store backed by SQLite through the pure-Go
// modernc.org/sqlite driver. The schema is created automatically.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggoodman/drinkshop/drinks"
	_ "modernc.org/sqlite"
)

// Store implements drinks.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ drinks.Store = (*Store)(nil)

// New opens (or creates) the database at path. Parent directories are
// created if needed. The special path ":memory:" opens a private in-memory
// database.
func New(path string) (*Store, error) {
	logger := slog.Default().With("component", "drinks.sqlite")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// createSchema creates the drinks table if it doesn't exist. AUTOINCREMENT
// keeps ids of deleted drinks from being reused.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS drinks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL UNIQUE,
			recipe     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, recipe FROM drinks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying drinks: %w", err)
	}
	defer rows.Close()

	out := []drinks.Drink{}
	for rows.Next() {
		d, err := scanDrink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drinks: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (drinks.Drink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, recipe FROM drinks WHERE id = ?`, id)
	d, err := scanDrink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return d, err
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	d, err := drinks.Prepare(d)
	if err != nil {
		return drinks.Drink{}, err
	}
	recipe, err := json.Marshal(d.Recipe)
	if err != nil {
		return drinks.Drink{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO drinks (title, recipe, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		d.Title, string(recipe), now, now,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, d.Title)
		}
		return drinks.Drink{}, fmt.Errorf("inserting drink: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return drinks.Drink{}, fmt.Errorf("reading drink id: %w", err)
	}
	s.logger.Debug("created drink", "id", d.ID, "title", d.Title)
	return d, nil
}

func (s *Store) Update(ctx context.Context, id int64, p drinks.Patch) (drinks.Drink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanDrink(tx.QueryRowContext(ctx, `SELECT id, title, recipe FROM drinks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	if err != nil {
		return drinks.Drink{}, err
	}
	next, err := drinks.Prepare(p.Apply(cur))
	if err != nil {
		return drinks.Drink{}, err
	}
	recipe, err := json.Marshal(next.Recipe)
	if err != nil {
		return drinks.Drink{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE drinks SET title = ?, recipe = ?, updated_at = ? WHERE id = ?`,
		next.Title, string(recipe), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, next.Title)
		}
		return drinks.Drink{}, fmt.Errorf("updating drink: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return drinks.Drink{}, fmt.Errorf("committing update: %w", err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drinks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting drink: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDrink(row scanner) (drinks.Drink, error) {
	var (
		d      drinks.Drink
		recipe string
	)
	if err := row.Scan(&d.ID, &d.Title, &recipe); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return drinks.Drink{}, err
		}
		return drinks.Drink{}, fmt.Errorf("scanning drink: %w", err)
	}
	if err := json.Unmarshal([]byte(recipe), &d.Recipe); err != nil {
		return drinks.Drink{}, fmt.Errorf("decoding recipe of drink %d: %w", d.ID, err)
	}
	return d, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
