// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides principal persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_principals_status
			ON principals(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreatePrincipal inserts a new principal.
// Returns ErrDuplicatePrincipal if the ID is already taken.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, type, display_name, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, string(p.Type), p.DisplayName, string(p.Status), p.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicatePrincipal
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrPrincipalNotFound if no principal exists with that ID.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, display_name, status, created_at
		 FROM principals WHERE id = ?`, id,
	)
	return scanPrincipal(row)
}

// ListPrincipals returns all principals matching the filter, newest first.
func (s *SQLiteStore) ListPrincipals(ctx context.Context, filter PrincipalFilter) ([]*Principal, error) {
	query := `SELECT id, type, display_name, status, created_at FROM principals`
	where, args := filterClauses(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// CountPrincipals returns the number of principals matching the filter.
func (s *SQLiteStore) CountPrincipals(ctx context.Context, filter PrincipalFilter) (int, error) {
	query := `SELECT COUNT(*) FROM principals`
	where, args := filterClauses(filter)
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}

// UpdatePrincipalStatus changes a principal's status.
// Returns ErrPrincipalNotFound if no principal exists with that ID.
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET status = ? WHERE id = ?`, string(status), id,
	)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// DeletePrincipal removes a principal by ID.
// Returns ErrPrincipalNotFound if no principal exists with that ID.
func (s *SQLiteStore) DeletePrincipal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting principal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts over *sql.Row and *sql.Rows for scanPrincipal.
type scanner interface {
	Scan(dest ...any) error
}

// scanPrincipal reads one principal row.
func scanPrincipal(row scanner) (*Principal, error) {
	var p Principal
	var typ, status string
	var createdAt time.Time

	err := row.Scan(&p.ID, &typ, &p.DisplayName, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	p.Type = PrincipalType(typ)
	p.Status = PrincipalStatus(status)
	p.CreatedAt = createdAt
	return &p, nil
}

// filterClauses builds the WHERE fragment and args for a PrincipalFilter.
func filterClauses(filter PrincipalFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	return strings.Join(clauses, " AND "), args
}
