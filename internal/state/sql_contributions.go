package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

const contributionCols = `id, product_id, source_type, source_id, attributes, confidence, author, created_at, updated_at`

func scanContribution(r rowScanner) (domain.SourceContribution, error) {
	var (
		c     domain.SourceContribution
		attrs []byte
	)
	err := r.Scan(&c.ID, &c.ProductID, &c.SourceType, &c.SourceID, &attrs, &c.Confidence, &c.Author, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.SourceContribution{}, err
	}
	if err := unmarshalJSON(attrs, &c.Attributes); err != nil {
		return domain.SourceContribution{}, fmt.Errorf("contribution %d attributes: %w", c.ID, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *SQLStore) UpsertContribution(ctx context.Context, c domain.SourceContribution) (domain.SourceContribution, error) {
	attrs, err := marshalJSON(c.Attributes)
	if err != nil {
		return domain.SourceContribution{}, err
	}

	now := nowUTC()
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO source_contributions (product_id, source_type, source_id, attributes, confidence, author, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`+
			s.upsertClause(
				[]string{"product_id", "source_type", "source_id"},
				[]string{"attributes", "confidence", "author", "updated_at"},
				false,
			)),
		c.ProductID, c.SourceType, c.SourceID, attrs, c.Confidence, c.Author, now, now,
	)
	if err != nil {
		return domain.SourceContribution{}, err
	}

	out, err := scanContribution(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+contributionCols+` FROM source_contributions
		 WHERE product_id = ? AND source_type = ? AND source_id = ?`),
		c.ProductID, c.SourceType, c.SourceID,
	))
	if err != nil {
		return domain.SourceContribution{}, fmt.Errorf("reload contribution: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListContributions(ctx context.Context, productID int64) ([]domain.SourceContribution, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+contributionCols+` FROM source_contributions WHERE product_id = ? ORDER BY id`),
		productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SourceContribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetRequirement(ctx context.Context, channel string, family string) (domain.ChannelRequirement, bool, error) {
	var (
		r           domain.ChannelRequirement
		required    []byte
		recommended []byte
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT channel, family, required_attributes, recommended_attributes, min_images, require_barcode,
			require_description, min_description_length, require_brand, require_price, updated_at
		 FROM channel_requirements WHERE channel = ? AND family = ?`),
		channel, family,
	).Scan(
		&r.Channel, &r.Family, &required, &recommended, &r.MinImages, &r.RequireBarcode,
		&r.RequireDescription, &r.MinDescriptionLength, &r.RequireBrand, &r.RequirePrice, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChannelRequirement{}, false, nil
	}
	if err != nil {
		return domain.ChannelRequirement{}, false, err
	}
	if err := unmarshalJSON(required, &r.RequiredAttributes); err != nil {
		return domain.ChannelRequirement{}, false, err
	}
	if err := unmarshalJSON(recommended, &r.RecommendedAttributes); err != nil {
		return domain.ChannelRequirement{}, false, err
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, true, nil
}

func (s *SQLStore) UpsertRequirement(ctx context.Context, r domain.ChannelRequirement) error {
	required, err := marshalJSON(r.RequiredAttributes)
	if err != nil {
		return err
	}
	recommended, err := marshalJSON(r.RecommendedAttributes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO channel_requirements (
			channel, family, required_attributes, recommended_attributes, min_images, require_barcode,
			require_description, min_description_length, require_brand, require_price, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+
			s.upsertClause(
				[]string{"channel", "family"},
				[]string{
					"required_attributes", "recommended_attributes", "min_images", "require_barcode",
					"require_description", "min_description_length", "require_brand", "require_price", "updated_at",
				},
				false,
			)),
		r.Channel, r.Family, required, recommended, r.MinImages, r.RequireBarcode,
		r.RequireDescription, r.MinDescriptionLength, r.RequireBrand, r.RequirePrice, nowUTC(),
	)
	return err
}

func (s *SQLStore) GetReadiness(ctx context.Context, productID int64, channel string) (domain.ReadinessResult, bool, error) {
	var (
		r       domain.ReadinessResult
		missing []byte
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT product_id, channel, ready, score, missing, evaluated_at
		 FROM readiness_cache WHERE product_id = ? AND channel = ?`),
		productID, channel,
	).Scan(&r.ProductID, &r.Channel, &r.Ready, &r.Score, &missing, &r.EvaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReadinessResult{}, false, nil
	}
	if err != nil {
		return domain.ReadinessResult{}, false, err
	}
	if err := unmarshalJSON(missing, &r.Missing); err != nil {
		return domain.ReadinessResult{}, false, err
	}
	if r.Missing == nil {
		r.Missing = []string{}
	}
	r.EvaluatedAt = r.EvaluatedAt.UTC()
	return r, true, nil
}

func (s *SQLStore) PutReadiness(ctx context.Context, r domain.ReadinessResult) error {
	missing := r.Missing
	if missing == nil {
		missing = []string{}
	}
	b, err := marshalJSON(missing)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO readiness_cache (product_id, channel, ready, score, missing, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`+
			s.upsertClause(
				[]string{"product_id", "channel"},
				[]string{"ready", "score", "missing", "evaluated_at"},
				false,
			)),
		r.ProductID, r.Channel, r.Ready, r.Score, b, r.EvaluatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) InvalidateProductReadiness(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM readiness_cache WHERE product_id = ?`), productID)
	return err
}

func (s *SQLStore) InvalidateChannelReadiness(ctx context.Context, channel string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM readiness_cache WHERE channel = ?`), channel)
	return err
}
