package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/YannKr/assetdeck/internal/model"
)

const assetColumns = `id, filename, media_type, mime_type, size_bytes, source, path, created_at`

func CreateAsset(ctx context.Context, database *sql.DB, a *model.LocalAsset) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO assets (id, filename, media_type, mime_type, size_bytes, source, path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.MediaType, a.MimeType, a.SizeBytes, a.Source, a.Path, formatTime(a.CreatedAt),
	)
	return err
}

// ListAssets returns the catalog newest first.
func ListAssets(ctx context.Context, database *sql.DB) ([]model.LocalAsset, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.LocalAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// GetAsset returns nil, nil when id is unknown.
func GetAsset(ctx context.Context, database *sql.DB, id string) (*model.LocalAsset, error) {
	a, err := scanAsset(database.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// DeleteAsset reports whether a row was removed.
func DeleteAsset(ctx context.Context, database *sql.DB, id string) (bool, error) {
	res, err := database.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteAssets removes ids in one transaction and returns the paths of
// the rows that existed, keyed by id.
func DeleteAssets(ctx context.Context, database *sql.DB, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, path FROM assets WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	found := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, err
		}
		found[id] = path
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assets WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return found, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*model.LocalAsset, error) {
	a := &model.LocalAsset{}
	var createdAt SQLiteTime
	err := row.Scan(&a.ID, &a.Filename, &a.MediaType, &a.MimeType,
		&a.SizeBytes, &a.Source, &a.Path, &createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt.Time
	return a, nil
}
