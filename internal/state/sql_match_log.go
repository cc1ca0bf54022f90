package state

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

func (s *SQLStore) InsertMatchLog(ctx context.Context, e domain.MatchLogEntry) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	if e.Matcher == "" {
		e.Matcher = domain.MatcherNone
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO match_log (session_id, supplier_id, supplier_sku, matcher, confidence, product_id, variant_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.SessionID, e.SupplierID, e.SupplierSKU, e.Matcher, e.Confidence,
		nullInt64(e.ProductID), nullInt64(e.VariantID), details, e.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) ListMatchLog(ctx context.Context, sessionID string, limit int) ([]domain.MatchLogEntry, error) {
	query := `SELECT id, session_id, supplier_id, supplier_sku, matcher, confidence, product_id, variant_id, details, created_at
		FROM match_log`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.MatchLogEntry{}
	for rows.Next() {
		var (
			e         domain.MatchLogEntry
			productID sql.NullInt64
			variantID sql.NullInt64
			details   []byte
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.SupplierID, &e.SupplierSKU, &e.Matcher, &e.Confidence,
			&productID, &variantID, &details, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.ProductID = productID.Int64
		e.VariantID = variantID.Int64
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const sessionCols = `session_id, supplier_id, status, received, rejected, failed, unchanged, matched,
	created_products, created_variants, emitted, warnings, created_at`

func scanSession(r rowScanner) (domain.ImportSession, error) {
	var (
		sess     domain.ImportSession
		warnings []byte
	)
	err := r.Scan(
		&sess.SessionID, &sess.SupplierID, &sess.Status, &sess.Received, &sess.Rejected, &sess.Failed,
		&sess.Unchanged, &sess.Matched, &sess.CreatedProduct, &sess.CreatedVariant, &sess.Emitted,
		&warnings, &sess.CreatedAt,
	)
	if err != nil {
		return domain.ImportSession{}, err
	}
	if err := unmarshalJSON(warnings, &sess.Warnings); err != nil {
		return domain.ImportSession{}, err
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

func (s *SQLStore) InsertImportSession(ctx context.Context, sess domain.ImportSession) error {
	warnings := sess.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	wb, err := marshalJSON(warnings)
	if err != nil {
		return err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = nowUTC()
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO import_sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.SessionID, sess.SupplierID, sess.Status, sess.Received, sess.Rejected, sess.Failed,
		sess.Unchanged, sess.Matched, sess.CreatedProduct, sess.CreatedVariant, sess.Emitted,
		wb, sess.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) GetImportSession(ctx context.Context, sessionID string) (domain.ImportSession, bool, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+sessionCols+` FROM import_sessions WHERE session_id = ?`),
		sessionID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportSession{}, false, nil
	}
	if err != nil {
		return domain.ImportSession{}, false, err
	}
	return sess, true, nil
}

func (s *SQLStore) ListImportSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	query := `SELECT ` + sessionCols + ` FROM import_sessions ORDER BY created_at DESC, session_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ImportSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error) {
	var rec IdempotencyRecord
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT status_code, response_body_json, created_at, expires_at
		 FROM idempotency
		 WHERE endpoint = ? AND idem_key_hash = ?`),
		endpoint, idemKeyHash,
	).Scan(&rec.StatusCode, &rec.BodyJSON, &rec.CreatedAt, &rec.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	if nowUTC().After(rec.ExpiresAt.UTC()) {
		return IdempotencyRecord{}, false, nil
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, true, nil
}

func (s *SQLStore) PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO idempotency (endpoint, idem_key_hash, status_code, response_body_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`+
			s.upsertClause(
				[]string{"endpoint", "idem_key_hash"},
				[]string{"status_code", "response_body_json", "created_at", "expires_at"},
				false,
			)),
		endpoint, idemKeyHash, rec.StatusCode, string(rec.BodyJSON), rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	return err
}
