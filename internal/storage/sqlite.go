package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/org/fakeakv/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteBackend is a durable SecretStore over a single sqlite table. The
// handle is opened once at startup and capped at one connection, so every
// transactional call is serialized on it for the process lifetime.
type SQLiteBackend struct {
	db  *sql.DB
	now func() int64
}

// DefaultSQLitePath returns the fallback database location: a fixed data
// volume path inside containers, a working-directory path otherwise.
func DefaultSQLitePath() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/data/akv.sqlite"
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, "data", "akv.sqlite")
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// applies pending migrations.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}
	if err := runSQLiteMigrations(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	return &SQLiteBackend{
		db:  db,
		now: func() int64 { return time.Now().Unix() },
	}, nil
}

func (s *SQLiteBackend) Close() {
	s.db.Close() //nolint:errcheck
}

const sqliteSecretColumns = `name, version, value, tags, attributes, enabled, deleted, created, updated`

func (s *SQLiteBackend) CreateVersion(ctx context.Context, name, value string, tags map[string]string, attrs models.Attributes) (*models.SecretVersion, error) {
	tagsText, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	attrsText, err := encodeAttrs(attrs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &models.SecretVersion{
		Name:       name,
		Version:    newVersionToken(),
		Value:      value,
		Tags:       tags,
		Attributes: attrs,
		Enabled:    true,
		Created:    now,
		Updated:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO secrets (name, version, value, tags, attributes, enabled, deleted, created, updated)
		 VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)`,
		rec.Name, rec.Version, rec.Value, tagsText, attrsText, rec.Created, rec.Updated,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting secret version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing secret version: %w", err)
	}
	return rec.Clone(), nil
}

func (s *SQLiteBackend) GetLatest(ctx context.Context, name string) (*models.SecretVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSecretColumns+`
		 FROM secrets WHERE name = ? AND deleted = 0
		 ORDER BY updated DESC, created DESC, version DESC
		 LIMIT 1`,
		name,
	)
	return scanSecretRow(row)
}

func (s *SQLiteBackend) GetVersion(ctx context.Context, name, version string) (*models.SecretVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSecretColumns+`
		 FROM secrets WHERE name = ? AND version = ?`,
		name, version,
	)
	return scanSecretRow(row)
}

func (s *SQLiteBackend) ListVersions(ctx context.Context, name string) ([]*models.SecretVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSecretColumns+`
		 FROM secrets WHERE name = ? AND deleted = 0
		 ORDER BY created DESC, version DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing secret versions: %w", err)
	}
	defer rows.Close()
	return collectSecretRows(rows)
}

func (s *SQLiteBackend) ListLatest(ctx context.Context) ([]*models.SecretVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM secrets WHERE deleted = 0 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing secret names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*models.SecretVersion
	for _, name := range names {
		rec, err := s.GetLatest(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between the two queries
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteBackend) SoftDelete(ctx context.Context, name string) (models.Deletion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Deletion{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM secrets WHERE name = ?`, name,
	).Scan(&count); err != nil {
		return models.Deletion{}, fmt.Errorf("counting secret versions: %w", err)
	}
	if count == 0 {
		return models.Deletion{}, ErrNotFound
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE secrets SET deleted = 1, updated = ? WHERE name = ?`, now, name,
	); err != nil {
		return models.Deletion{}, fmt.Errorf("marking versions deleted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Deletion{}, fmt.Errorf("committing soft delete: %w", err)
	}
	return models.NewDeletion(now), nil
}

func (s *SQLiteBackend) GetDeletion(ctx context.Context, name string) (models.Deletion, error) {
	var deletedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(updated) FROM secrets WHERE name = ? AND deleted = 1`, name,
	).Scan(&deletedAt)
	if err != nil {
		return models.Deletion{}, fmt.Errorf("reading deletion record: %w", err)
	}
	if !deletedAt.Valid {
		return models.Deletion{}, ErrNotFound
	}
	return models.NewDeletion(deletedAt.Int64), nil
}

func (s *SQLiteBackend) Recover(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM secrets WHERE name = ? AND deleted = 1`, name,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("counting deleted versions: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE secrets SET deleted = 0 WHERE name = ?`, name,
	); err != nil {
		return false, fmt.Errorf("recovering versions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing recover: %w", err)
	}
	return true, nil
}

func (s *SQLiteBackend) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT name) FROM secrets WHERE deleted = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting secrets: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecretRow(row rowScanner) (*models.SecretVersion, error) {
	var (
		rec              models.SecretVersion
		tags, attrs      *string
		enabled, deleted int64
	)
	err := row.Scan(&rec.Name, &rec.Version, &rec.Value, &tags, &attrs,
		&enabled, &deleted, &rec.Created, &rec.Updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning secret row: %w", err)
	}
	rec.Enabled = enabled != 0
	rec.Deleted = deleted != 0
	if rec.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if rec.Attributes, err = decodeAttrs(attrs); err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectSecretRows(rows *sql.Rows) ([]*models.SecretVersion, error) {
	var out []*models.SecretVersion
	for rows.Next() {
		rec, err := scanSecretRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
