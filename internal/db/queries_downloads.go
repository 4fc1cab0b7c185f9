package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/YannKr/assetdeck/internal/model"
)

func InsertDownload(ctx context.Context, database *sql.DB, d *model.Download) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := database.ExecContext(ctx,
		`INSERT INTO downloads (id, asset_id, filename, path, size_bytes, sha256, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AssetID, d.Filename, d.Path, d.SizeBytes, d.SHA256, d.Source, formatTime(d.CreatedAt),
	)
	return err
}

func ListDownloads(ctx context.Context, database *sql.DB, limit int) ([]model.Download, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := database.QueryContext(ctx,
		`SELECT id, asset_id, filename, path, size_bytes, sha256, source, created_at
		 FROM downloads ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Download
	for rows.Next() {
		var d model.Download
		var createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.AssetID, &d.Filename, &d.Path,
			&d.SizeBytes, &d.SHA256, &d.Source, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneDownloads deletes ledger rows created before cutoff.
func PruneDownloads(ctx context.Context, database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.ExecContext(ctx,
		`DELETE FROM downloads WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
