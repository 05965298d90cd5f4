package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// Record operations

// tableFor returns the table holding records of kind.
func tableFor(kind addon.Kind) (string, error) {
	switch kind {
	case addon.KindPlugin:
		return "plugins", nil
	case addon.KindTheme:
		return "themes", nil
	default:
		return "", fmt.Errorf("unknown package kind %q", kind)
	}
}

// selectColumns lists the columns scanned by scanRecord for kind.
func selectColumns(kind addon.Kind) string {
	cols := "id, name, proxy_name, status, repository_id, current_version, target_version, created_at, updated_at"
	if kind == addon.KindTheme {
		cols += ", supports"
	}
	return cols
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(kind addon.Kind, row rowScanner) (*addon.Record, error) {
	var (
		rec            addon.Record
		proxyName      sql.NullString
		status         string
		currentVersion sql.NullString
		createdAt      string
		updatedAt      string
		supportsJSON   string
	)

	dest := []any{
		&rec.ID,
		&rec.Name,
		&proxyName,
		&status,
		&rec.RepositoryID,
		&currentVersion,
		&rec.TargetVersion,
		&createdAt,
		&updatedAt,
	}
	if kind == addon.KindTheme {
		dest = append(dest, &supportsJSON)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Kind = kind
	rec.ProxyName = proxyName.String
	rec.Status = addon.Status(status)
	rec.CurrentVersion = currentVersion.String

	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", rec.Name, err)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", rec.Name, err)
	}

	if kind == addon.KindTheme {
		rec.Supports = []string{}
		if err := json.Unmarshal([]byte(supportsJSON), &rec.Supports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal supports for %s: %w", rec.Name, err)
		}
	}

	return &rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalSupports(supports []string) (string, error) {
	if supports == nil {
		supports = []string{}
	}
	data, err := json.Marshal(supports)
	if err != nil {
		return "", fmt.Errorf("failed to marshal supports: %w", err)
	}
	return string(data), nil
}

// FindByName retrieves a record by canonical name.
// Returns addon.ErrRecordNotFound if no record exists.
func (s *Store) FindByName(ctx context.Context, kind addon.Kind, name string) (*addon.Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = ?`, selectColumns(kind), table)
	rec, err := scanRecord(kind, s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, name, addon.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, name, wrapErr(err))
	}
	return rec, nil
}

// FindByID retrieves a record by its store-assigned ID.
// Returns addon.ErrRecordNotFound if no record exists.
func (s *Store) FindByID(ctx context.Context, kind addon.Kind, id int64) (*addon.Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns(kind), table)
	rec, err := scanRecord(kind, s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s #%d: %w", kind, id, addon.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s #%d: %w", kind, id, wrapErr(err))
	}
	return rec, nil
}

// List returns all records of kind ordered by name.
func (s *Store) List(ctx context.Context, kind addon.Kind) ([]*addon.Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY name`, selectColumns(kind), table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, wrapErr(err))
	}
	defer rows.Close()

	var records []*addon.Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", kind, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", kind, err)
	}

	return records, nil
}

// Create inserts a new record and returns it with ID and timestamps set.
func (s *Store) Create(ctx context.Context, rec *addon.Record) (*addon.Record, error) {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	args := []any{
		rec.Name,
		nullable(rec.ProxyName),
		string(rec.Status),
		rec.RepositoryID,
		nullable(rec.CurrentVersion),
		rec.TargetVersion,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, proxy_name, status, repository_id, current_version, target_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, table)
	if rec.Kind == addon.KindTheme {
		supports, err := marshalSupports(rec.Supports)
		if err != nil {
			return nil, err
		}
		args = append(args, supports)
		query = `
		INSERT INTO themes (name, proxy_name, status, repository_id, current_version, target_version, created_at, updated_at, supports)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s %s: %w", rec.Kind, rec.Name, wrapErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s ID: %w", rec.Kind, err)
	}

	created := rec.Clone()
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Kind == addon.KindTheme && created.Supports == nil {
		created.Supports = []string{}
	}
	return created, nil
}

// Update writes every mutable field of rec in a single statement, keyed by
// canonical name. Returns addon.ErrRecordNotFound if no row matched.
func (s *Store) Update(ctx context.Context, rec *addon.Record) (*addon.Record, error) {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	query := fmt.Sprintf(`
		UPDATE %s
		SET proxy_name = ?, status = ?, repository_id = ?, current_version = ?, target_version = ?, updated_at = ?
		WHERE name = ?
	`, table)
	args := []any{
		nullable(rec.ProxyName),
		string(rec.Status),
		rec.RepositoryID,
		nullable(rec.CurrentVersion),
		rec.TargetVersion,
		now.Format(time.RFC3339),
		rec.Name,
	}
	if rec.Kind == addon.KindTheme {
		supports, err := marshalSupports(rec.Supports)
		if err != nil {
			return nil, err
		}
		query = `
		UPDATE themes
		SET proxy_name = ?, status = ?, repository_id = ?, current_version = ?, target_version = ?, updated_at = ?, supports = ?
		WHERE name = ?
	`
		args = []any{
			nullable(rec.ProxyName),
			string(rec.Status),
			rec.RepositoryID,
			nullable(rec.CurrentVersion),
			rec.TargetVersion,
			now.Format(time.RFC3339),
			supports,
			rec.Name,
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", rec.Kind, rec.Name, wrapErr(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s %s: %w", rec.Kind, rec.Name, addon.ErrRecordNotFound)
	}

	return s.FindByName(ctx, rec.Kind, rec.Name)
}

// Delete removes a record by canonical name.
func (s *Store) Delete(ctx context.Context, kind addon.Kind, name string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, table), name)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, name, wrapErr(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, name, addon.ErrRecordNotFound)
	}

	return nil
}

// Repository operations

// InsertRepository registers a repository and returns its ID. Registering an
// existing name updates its URL and returns the existing ID.
func (s *Store) InsertRepository(ctx context.Context, name, url string) (int64, error) {
	query := `
		INSERT INTO repositories (name, url, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET url = excluded.url
	`
	if _, err := s.db.ExecContext(ctx, query, name, url, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("failed to insert repository %s: %w", name, wrapErr(err))
	}

	id, found, err := s.LookupRepository(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("repository %s missing after insert", name)
	}
	return id, nil
}

// LookupRepository returns the ID of the named repository and whether it exists.
func (s *Store) LookupRepository(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM repositories WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up repository %s: %w", name, wrapErr(err))
	}
	return id, true, nil
}

// ListRepositories returns all repositories ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, url, created_at FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", wrapErr(err))
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		var repo Repository
		var url sql.NullString
		var createdAt string
		if err := rows.Scan(&repo.ID, &repo.Name, &url, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository row: %w", err)
		}
		repo.URL = url.String
		repo.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for repository %s: %w", repo.Name, err)
		}
		repos = append(repos, &repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}

	return repos, nil
}

// Settings operations

// GetSetting returns the value stored under key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, wrapErr(err))
	}
	return value, true, nil
}

// SetSetting inserts or replaces a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, wrapErr(err))
	}
	return nil
}
