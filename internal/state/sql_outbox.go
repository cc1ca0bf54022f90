package state

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

const outboxCols = `id, entity_type, entity_id, product_id, event_type, payload, status, retry_count, last_error,
	available_at, created_at, updated_at, processed_at`

func scanOutbox(r rowScanner) (domain.OutboxEvent, error) {
	var (
		e         domain.OutboxEvent
		payload   []byte
		lastError sql.NullString
		processed sql.NullTime
	)
	err := r.Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.ProductID, &e.EventType, &payload, &e.Status, &e.RetryCount, &lastError,
		&e.AvailableAt, &e.CreatedAt, &e.UpdatedAt, &processed,
	)
	if err != nil {
		return domain.OutboxEvent{}, err
	}
	if len(payload) > 0 {
		e.Payload = append([]byte(nil), payload...)
	}
	e.LastError = lastError.String
	e.AvailableAt = e.AvailableAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if processed.Valid {
		t := processed.Time.UTC()
		e.ProcessedAt = &t
	}
	return e, nil
}

func scanOutboxRows(rows *sql.Rows) ([]domain.OutboxEvent, error) {
	defer rows.Close()

	out := []domain.OutboxEvent{}
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) (domain.OutboxEvent, error) {
	now := nowUTC()
	if e.Status == "" {
		e.Status = domain.OutboxPending
	}
	if e.AvailableAt.IsZero() {
		e.AvailableAt = now
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	id, err := s.insertID(ctx, s.db,
		`INSERT INTO outbox_events (
			entity_type, entity_id, product_id, event_type, payload, status, retry_count,
			available_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID, e.ProductID, e.EventType, payload, e.Status, e.RetryCount,
		e.AvailableAt.UTC(), now, now,
	)
	if err != nil {
		return domain.OutboxEvent{}, err
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}

// ClaimOutboxEvents locks candidate rows with FOR UPDATE SKIP LOCKED so
// concurrent workers never claim the same event. PostgreSQL does it in one
// UPDATE ... RETURNING; MySQL selects ids, marks them and reads them back inside
// one transaction.
func (s *SQLStore) ClaimOutboxEvents(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	now = now.UTC()

	if s.dialect == DialectPostgres {
		rows, err := s.db.QueryContext(ctx,
			s.q(`UPDATE outbox_events SET status = 'processing', updated_at = ?
			 WHERE id IN (
				SELECT id FROM outbox_events
				WHERE status = 'pending' AND available_at <= ?
				ORDER BY id
				LIMIT ?
				FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+outboxCols),
			nowUTC(), now, limit,
		)
		if err != nil {
			return nil, err
		}
		out, err := scanOutboxRows(rows)
		if err != nil {
			return nil, err
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}

	var out []domain.OutboxEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM outbox_events
			 WHERE status = 'pending' AND available_at <= ?
			 ORDER BY id
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			now, limit,
		)
		if err != nil {
			return err
		}

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		args := append([]any{nowUTC()}, int64Args(ids)...)
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET status = 'processing', updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`,
			args...,
		); err != nil {
			return err
		}

		claimed, err := tx.QueryContext(ctx,
			`SELECT `+outboxCols+` FROM outbox_events WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
			int64Args(ids)...,
		)
		if err != nil {
			return err
		}
		out, err = scanOutboxRows(claimed)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.OutboxEvent{}
	}
	return out, nil
}

func (s *SQLStore) MarkOutboxSuccess(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := nowUTC()
	args := append([]any{now, now}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_events SET status = 'success', last_error = NULL, updated_at = ?, processed_at = ?
		 WHERE id IN (`+placeholders(len(ids))+`)`),
		args...,
	)
	return err
}

func (s *SQLStore) MarkOutboxError(ctx context.Context, ids []int64, message string) error {
	if len(ids) == 0 {
		return nil
	}
	now := nowUTC()
	args := append([]any{message, now, now}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_events SET status = 'error', last_error = ?, updated_at = ?, processed_at = ?
		 WHERE id IN (`+placeholders(len(ids))+`)`),
		args...,
	)
	return err
}

func (s *SQLStore) ReleaseOutboxEvents(ctx context.Context, ids []int64, availableAt time.Time, message string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{message, availableAt.UTC(), nowUTC()}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_events
		 SET status = 'pending', retry_count = retry_count + 1, last_error = ?, available_at = ?, updated_at = ?
		 WHERE status = 'processing' AND id IN (`+placeholders(len(ids))+`)`),
		args...,
	)
	return err
}

func (s *SQLStore) RequeueErroredEvents(ctx context.Context, maxRetries int) (int64, error) {
	now := nowUTC()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_events
		 SET status = 'pending', retry_count = retry_count + 1, available_at = ?, processed_at = NULL, updated_at = ?
		 WHERE status = 'error' AND retry_count < ?`),
		now, now, maxRetries,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) ResetStuckEvents(ctx context.Context, claimedBefore time.Time) (int64, error) {
	now := nowUTC()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_events SET status = 'pending', available_at = ?, updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`),
		now, now, claimedBefore.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) PurgeSucceededEvents(ctx context.Context, processedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM outbox_events WHERE status = 'success' AND processed_at < ?`),
		processedBefore.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListOutboxEvents(ctx context.Context, f OutboxFilter) ([]domain.OutboxEvent, error) {
	query := `SELECT ` + outboxCols + ` FROM outbox_events WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ProductID != 0 {
		query += ` AND product_id = ?`
		args = append(args, f.ProductID)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanOutboxRows(rows)
}
