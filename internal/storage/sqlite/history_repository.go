package sqlite

import (
	"database/sql"
	"time"

	"github.com/fetchd/fetchd/internal/storage"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// Append journals a terminal outcome. A repeated id (a record removed after
// completing, say) replaces the previous row.
func (r *HistoryRepository) Append(rec storage.Record) error {
	_, err := r.db.Exec(`
		INSERT INTO history (id, url, path, status, error_code, error_message, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			finished_at = excluded.finished_at
	`, rec.ID, rec.URL, rec.Path, rec.Status, rec.ErrorCode, rec.ErrorMessage, rec.FinishedAt.Format(time.RFC3339))

	return err
}

// List returns the most recent outcomes, newest first.
func (r *HistoryRepository) List(limit int) ([]storage.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, url, path, status, error_code, error_message, finished_at
		FROM history ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.Record

	for rows.Next() {
		var rec storage.Record

		var finishedAt string

		var message sql.NullString

		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Path, &rec.Status, &rec.ErrorCode, &message, &finishedAt); err != nil {
			return nil, err
		}

		if message.Valid {
			rec.ErrorMessage = message.String
		}

		if parsed, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			rec.FinishedAt = parsed
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
