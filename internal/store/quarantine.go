package store

import (
	"context"
	"fmt"
	"time"
)

// QuarantinedRecord is a remote record that failed validation during merge,
// kept for diagnostics. Quarantine is append-only and never read on the
// grading or sync paths.
type QuarantinedRecord struct {
	ID         int64
	ReceivedAt time.Time
	Code       string // MalformedCode of the rejection
	RecordID   string
	Detail     string
	Payload    string // original record JSON, best effort
}

// WriteQuarantine appends a rejected record for later inspection.
func (s *Store) WriteQuarantine(ctx context.Context, rec QuarantinedRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (received_at, code, record_id, detail, payload)
		VALUES (?, ?, ?, ?, ?)
	`, millis(rec.ReceivedAt), rec.Code, rec.RecordID, rec.Detail, rec.Payload)
	if err != nil {
		return fmt.Errorf("write quarantine: %w", err)
	}
	return nil
}

// ListQuarantine returns quarantined records, newest first, up to limit.
func (s *Store) ListQuarantine(ctx context.Context, limit int) ([]QuarantinedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, received_at, code, record_id, detail, payload
		FROM quarantine
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	var recs []QuarantinedRecord
	for rows.Next() {
		var (
			rec      QuarantinedRecord
			received int64
		)
		if err := rows.Scan(&rec.ID, &received, &rec.Code, &rec.RecordID, &rec.Detail, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		rec.ReceivedAt = fromMillis(received)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine: %w", err)
	}
	return recs, nil
}

// CountQuarantine returns the number of quarantined records.
func (s *Store) CountQuarantine(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count quarantine: %w", err)
	}
	return count, nil
}
