package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/fakeakv/pkg/models"
)

// PostgresBackend implements the same single-table contract as
// SQLiteBackend on PostgreSQL, for deployments that already run postgres.
type PostgresBackend struct {
	pool *pgxpool.Pool
	now  func() int64
}

// NewPostgresBackend opens a pgxpool connection, applies migrations and
// returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := runPostgresMigrations(connStr); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBackend{
		pool: pool,
		now:  func() int64 { return time.Now().Unix() },
	}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

const pgSecretColumns = `name, version, value, tags, attributes, enabled, deleted, created, updated`

func (p *PostgresBackend) CreateVersion(ctx context.Context, name, value string, tags map[string]string, attrs models.Attributes) (*models.SecretVersion, error) {
	tagsText, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	attrsText, err := encodeAttrs(attrs)
	if err != nil {
		return nil, err
	}

	now := p.now()
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

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO secrets (name, version, value, tags, attributes, enabled, deleted, created, updated)
		 VALUES ($1, $2, $3, $4, $5, 1, 0, $6, $7)`,
		rec.Name, rec.Version, rec.Value, tagsText, attrsText, rec.Created, rec.Updated,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting secret version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing secret version: %w", err)
	}
	return rec.Clone(), nil
}

func (p *PostgresBackend) GetLatest(ctx context.Context, name string) (*models.SecretVersion, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+pgSecretColumns+`
		 FROM secrets WHERE name = $1 AND deleted = 0
		 ORDER BY updated DESC, created DESC, version DESC
		 LIMIT 1`,
		name,
	)
	return scanPgSecretRow(row)
}

func (p *PostgresBackend) GetVersion(ctx context.Context, name, version string) (*models.SecretVersion, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+pgSecretColumns+`
		 FROM secrets WHERE name = $1 AND version = $2`,
		name, version,
	)
	return scanPgSecretRow(row)
}

func (p *PostgresBackend) ListVersions(ctx context.Context, name string) ([]*models.SecretVersion, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgSecretColumns+`
		 FROM secrets WHERE name = $1 AND deleted = 0
		 ORDER BY created DESC, version DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing secret versions: %w", err)
	}
	defer rows.Close()

	var out []*models.SecretVersion
	for rows.Next() {
		rec, err := scanPgSecretRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) ListLatest(ctx context.Context) ([]*models.SecretVersion, error) {
	rows, err := p.pool.Query(ctx,
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
		rec, err := p.GetLatest(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *PostgresBackend) SoftDelete(ctx context.Context, name string) (models.Deletion, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.Deletion{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM secrets WHERE name = $1`, name,
	).Scan(&count); err != nil {
		return models.Deletion{}, fmt.Errorf("counting secret versions: %w", err)
	}
	if count == 0 {
		return models.Deletion{}, ErrNotFound
	}

	now := p.now()
	if _, err := tx.Exec(ctx,
		`UPDATE secrets SET deleted = 1, updated = $1 WHERE name = $2`, now, name,
	); err != nil {
		return models.Deletion{}, fmt.Errorf("marking versions deleted: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Deletion{}, fmt.Errorf("committing soft delete: %w", err)
	}
	return models.NewDeletion(now), nil
}

func (p *PostgresBackend) GetDeletion(ctx context.Context, name string) (models.Deletion, error) {
	var deletedAt *int64
	err := p.pool.QueryRow(ctx,
		`SELECT MIN(updated) FROM secrets WHERE name = $1 AND deleted = 1`, name,
	).Scan(&deletedAt)
	if err != nil {
		return models.Deletion{}, fmt.Errorf("reading deletion record: %w", err)
	}
	if deletedAt == nil {
		return models.Deletion{}, ErrNotFound
	}
	return models.NewDeletion(*deletedAt), nil
}

func (p *PostgresBackend) Recover(ctx context.Context, name string) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM secrets WHERE name = $1 AND deleted = 1`, name,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("counting deleted versions: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE secrets SET deleted = 0 WHERE name = $1`, name,
	); err != nil {
		return false, fmt.Errorf("recovering versions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing recover: %w", err)
	}
	return true, nil
}

func (p *PostgresBackend) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT name) FROM secrets WHERE deleted = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting secrets: %w", err)
	}
	return count, nil
}

func scanPgSecretRow(row pgx.Row) (*models.SecretVersion, error) {
	var (
		rec              models.SecretVersion
		tags, attrs      *string
		enabled, deleted int64
	)
	err := row.Scan(&rec.Name, &rec.Version, &rec.Value, &tags, &attrs,
		&enabled, &deleted, &rec.Created, &rec.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
