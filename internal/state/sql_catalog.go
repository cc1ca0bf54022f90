package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const brandCols = `id, name, slug, active`

func scanBrand(r rowScanner) (domain.Brand, error) {
	var b domain.Brand
	err := r.Scan(&b.ID, &b.Name, &b.Slug, &b.Active)
	return b, err
}

func (s *SQLStore) GetBrand(ctx context.Context, id int64) (domain.Brand, bool, error) {
	return s.oneBrand(ctx, `SELECT `+brandCols+` FROM brands WHERE id = ?`, id)
}

func (s *SQLStore) FindBrandByName(ctx context.Context, name string) (domain.Brand, bool, error) {
	slug := textnorm.Slug(name)
	if slug == "" {
		return domain.Brand{}, false, nil
	}
	return s.oneBrand(ctx, `SELECT `+brandCols+` FROM brands WHERE slug = ?`, slug)
}

func (s *SQLStore) FindBrandByAlias(ctx context.Context, alias string) (domain.Brand, bool, error) {
	key := textnorm.Key(alias)
	if key == "" {
		return domain.Brand{}, false, nil
	}
	return s.oneBrand(ctx,
		`SELECT b.id, b.name, b.slug, b.active
		 FROM brand_aliases a JOIN brands b ON b.id = a.brand_id
		 WHERE a.alias_key = ?`,
		key,
	)
}

func (s *SQLStore) oneBrand(ctx context.Context, query string, args ...any) (domain.Brand, bool, error) {
	b, err := scanBrand(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Brand{}, false, nil
	}
	if err != nil {
		return domain.Brand{}, false, err
	}
	return b, true, nil
}

func (s *SQLStore) CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error) {
	if b.Slug == "" {
		b.Slug = textnorm.Slug(b.Name)
	}

	existing, ok, err := s.oneBrand(ctx, `SELECT `+brandCols+` FROM brands WHERE slug = ?`, b.Slug)
	if err != nil {
		return domain.Brand{}, err
	}
	if ok {
		return existing, nil
	}

	id, err := s.insertID(ctx, s.db,
		`INSERT INTO brands (name, slug, active) VALUES (?, ?, ?)`,
		b.Name, b.Slug, b.Active,
	)
	if err != nil {
		return domain.Brand{}, err
	}
	b.ID = id
	return b, nil
}

func (s *SQLStore) AddBrandAlias(ctx context.Context, a domain.BrandAlias) error {
	key := textnorm.Key(a.Alias)
	if key == "" {
		return fmt.Errorf("empty alias")
	}

	var owner int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT brand_id FROM brand_aliases WHERE alias_key = ?`), key).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case owner != a.BrandID:
		return fmt.Errorf("alias %q already belongs to brand %d", a.Alias, owner)
	default:
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO brand_aliases (brand_id, alias, alias_key) VALUES (?, ?, ?)`),
		a.BrandID, a.Alias, key,
	)
	return err
}

const productCols = `id, brand_id, family, name, model_name, model_key, manufacturer, active,
	fused_attributes, best_price, variant_count, offer_count, supplier_count, in_stock, created_at, updated_at`

func scanProduct(r rowScanner) (domain.Product, error) {
	var (
		p       domain.Product
		brandID sql.NullInt64
		fused   []byte
	)
	err := r.Scan(
		&p.ID, &brandID, &p.Family, &p.Name, &p.ModelName, &p.ModelKey, &p.Manufacturer, &p.Active,
		&fused, &p.Rollup.BestPrice, &p.Rollup.VariantCount, &p.Rollup.OfferCount, &p.Rollup.SupplierCount,
		&p.Rollup.InStock, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.BrandID = brandID.Int64
	if err := unmarshalJSON(fused, &p.FusedAttributes); err != nil {
		return domain.Product{}, fmt.Errorf("product %d fused attributes: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *SQLStore) oneProduct(ctx context.Context, query string, args ...any) (domain.Product, bool, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}
	return p, true, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id int64) (domain.Product, bool, error) {
	return s.oneProduct(ctx, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
}

func (s *SQLStore) FindProductByModel(ctx context.Context, brandID int64, family string, modelKey string) (domain.Product, bool, error) {
	return s.oneProduct(ctx,
		`SELECT `+productCols+` FROM products
		 WHERE brand_id = ? AND model_key = ? AND (? = '' OR family = ?)
		 ORDER BY id LIMIT 1`,
		brandID, modelKey, family, family,
	)
}

func (s *SQLStore) FindProductByManufacturerModel(ctx context.Context, manufacturer string, family string, modelKey string) (domain.Product, bool, error) {
	mk := textnorm.Key(manufacturer)
	if mk == "" {
		return domain.Product{}, false, nil
	}
	return s.oneProduct(ctx,
		`SELECT `+productCols+` FROM products
		 WHERE manufacturer_key = ? AND model_key = ? AND (? = '' OR family = ?)
		 ORDER BY id LIMIT 1`,
		mk, modelKey, family, family,
	)
}

// FindSimilarProduct scores with pg_trgm on PostgreSQL. MySQL has no trigram
// operator, so candidates of the brand and family are scored in Go with the
// same algorithm.
func (s *SQLStore) FindSimilarProduct(ctx context.Context, brandID int64, family string, modelName string, threshold float64) (domain.Product, float64, bool, error) {
	key := textnorm.Key(modelName)
	if key == "" {
		return domain.Product{}, 0, false, nil
	}

	if s.dialect == DialectPostgres {
		row := s.db.QueryRowContext(ctx,
			s.q(`SELECT `+productCols+`, similarity(model_key, ?) AS score FROM products
			 WHERE brand_id = ? AND (? = '' OR family = ?) AND similarity(model_key, ?) >= ?
			 ORDER BY score DESC, id ASC LIMIT 1`),
			key, brandID, family, family, key, threshold,
		)
		var (
			p       domain.Product
			brandNI sql.NullInt64
			fused   []byte
			score   float64
		)
		err := row.Scan(
			&p.ID, &brandNI, &p.Family, &p.Name, &p.ModelName, &p.ModelKey, &p.Manufacturer, &p.Active,
			&fused, &p.Rollup.BestPrice, &p.Rollup.VariantCount, &p.Rollup.OfferCount, &p.Rollup.SupplierCount,
			&p.Rollup.InStock, &p.CreatedAt, &p.UpdatedAt, &score,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, 0, false, nil
		}
		if err != nil {
			return domain.Product{}, 0, false, err
		}
		p.BrandID = brandNI.Int64
		if err := unmarshalJSON(fused, &p.FusedAttributes); err != nil {
			return domain.Product{}, 0, false, err
		}
		return p, score, true, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productCols+` FROM products
		 WHERE brand_id = ? AND (? = '' OR family = ?)
		 ORDER BY id`,
		brandID, family, family,
	)
	if err != nil {
		return domain.Product{}, 0, false, err
	}
	defer rows.Close()

	var (
		best      domain.Product
		bestScore float64
		found     bool
	)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Product{}, 0, false, err
		}
		score := textnorm.Similarity(p.ModelKey, key)
		if score < threshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Product{}, 0, false, err
	}
	return best, bestScore, found, nil
}

func (s *SQLStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ModelKey == "" {
		p.ModelKey = textnorm.Key(p.ModelName)
	}
	fused, err := marshalJSON(p.FusedAttributes)
	if err != nil {
		return domain.Product{}, err
	}

	now := nowUTC()
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO products (
			brand_id, family, name, model_name, model_key, manufacturer, manufacturer_key, active,
			fused_attributes, best_price, variant_count, offer_count, supplier_count, in_stock,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(p.BrandID), p.Family, p.Name, p.ModelName, p.ModelKey, p.Manufacturer, textnorm.Key(p.Manufacturer),
		p.Active, fused, p.Rollup.BestPrice, p.Rollup.VariantCount, p.Rollup.OfferCount, p.Rollup.SupplierCount,
		p.Rollup.InStock, now, now,
	)
	if isUniqueViolation(err) {
		return domain.Product{}, domain.ErrDuplicateProduct
	}
	if err != nil {
		return domain.Product{}, err
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

func (s *SQLStore) UpdateProductFusion(ctx context.Context, id int64, fused map[string]any, rollup domain.Rollup) error {
	b, err := marshalJSON(fused)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE products SET fused_attributes = ?, best_price = ?, variant_count = ?, offer_count = ?,
			supplier_count = ?, in_stock = ?, updated_at = ?
		 WHERE id = ?`),
		b, rollup.BestPrice, rollup.VariantCount, rollup.OfferCount, rollup.SupplierCount, rollup.InStock, nowUTC(), id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("product %d", id))
}

func (s *SQLStore) SetProductActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE products SET active = ?, updated_at = ? WHERE id = ?`),
		active, nowUTC(), id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("product %d", id))
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

const variantCols = `id, product_id, gtin, mpn, attributes, created_at`

func scanVariant(r rowScanner) (domain.Variant, error) {
	var (
		v     domain.Variant
		gtin  sql.NullString
		attrs []byte
	)
	if err := r.Scan(&v.ID, &v.ProductID, &gtin, &v.MPN, &attrs, &v.CreatedAt); err != nil {
		return domain.Variant{}, err
	}
	v.GTIN = gtin.String
	if err := unmarshalJSON(attrs, &v.Attributes); err != nil {
		return domain.Variant{}, fmt.Errorf("variant %d attributes: %w", v.ID, err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (s *SQLStore) oneVariant(ctx context.Context, query string, args ...any) (domain.Variant, bool, error) {
	v, err := scanVariant(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variant{}, false, nil
	}
	if err != nil {
		return domain.Variant{}, false, err
	}
	return v, true, nil
}

func (s *SQLStore) listVariants(ctx context.Context, query string, args ...any) ([]domain.Variant, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Variant{}
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetVariant(ctx context.Context, id int64) (domain.Variant, bool, error) {
	return s.oneVariant(ctx, `SELECT `+variantCols+` FROM variants WHERE id = ?`, id)
}

func (s *SQLStore) FindVariantByGTIN(ctx context.Context, gtin string) (domain.Variant, bool, error) {
	if gtin == "" {
		return domain.Variant{}, false, nil
	}
	return s.oneVariant(ctx, `SELECT `+variantCols+` FROM variants WHERE gtin = ?`, gtin)
}

func (s *SQLStore) FindVariantsByMPN(ctx context.Context, mpn string, brandID int64) ([]domain.Variant, error) {
	if mpn == "" {
		return []domain.Variant{}, nil
	}
	if brandID == 0 {
		return s.listVariants(ctx, `SELECT `+variantCols+` FROM variants WHERE mpn = ? ORDER BY id`, mpn)
	}
	return s.listVariants(ctx,
		`SELECT v.id, v.product_id, v.gtin, v.mpn, v.attributes, v.created_at
		 FROM variants v JOIN products p ON p.id = v.product_id
		 WHERE v.mpn = ? AND p.brand_id = ?
		 ORDER BY v.id`,
		mpn, brandID,
	)
}

// FindVariantByAxes uses JSON containment: JSON_CONTAINS on MySQL, @> on
// PostgreSQL.
func (s *SQLStore) FindVariantByAxes(ctx context.Context, productID int64, axes map[string]string) (domain.Variant, bool, error) {
	if axes == nil {
		axes = map[string]string{}
	}
	b, err := marshalJSON(axes)
	if err != nil {
		return domain.Variant{}, false, err
	}

	cond := `JSON_CONTAINS(attributes, ?)`
	if s.dialect == DialectPostgres {
		cond = `attributes @> ?::jsonb`
	}
	return s.oneVariant(ctx,
		`SELECT `+variantCols+` FROM variants WHERE product_id = ? AND `+cond+` ORDER BY id LIMIT 1`,
		productID, b,
	)
}

func (s *SQLStore) ListVariants(ctx context.Context, productID int64) ([]domain.Variant, error) {
	return s.listVariants(ctx, `SELECT `+variantCols+` FROM variants WHERE product_id = ? ORDER BY id`, productID)
}

func (s *SQLStore) CreateVariant(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	attrs, err := marshalJSON(v.Attributes)
	if err != nil {
		return domain.Variant{}, err
	}
	key := axesKey(v.Attributes)
	now := nowUTC()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT COUNT(*) FROM variants WHERE product_id = ? AND axes_key = ?`),
			v.ProductID, key,
		).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateVariant
		}

		id, err := s.insertID(ctx, tx,
			`INSERT INTO variants (product_id, gtin, mpn, attributes, axes_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			v.ProductID, sql.NullString{String: v.GTIN, Valid: v.GTIN != ""}, v.MPN, attrs, key, now,
		)
		if err != nil {
			return err
		}
		v.ID = id
		return nil
	})
	if err != nil {
		return domain.Variant{}, err
	}
	v.CreatedAt = now
	return v, nil
}

const offerCols = `id, supplier_id, supplier_sku, product_id, variant_id, price, stock, payload, hash, updated_at`

func scanOffer(r rowScanner) (domain.SupplierOffer, error) {
	var (
		o         domain.SupplierOffer
		variantID sql.NullInt64
		payload   []byte
	)
	err := r.Scan(&o.ID, &o.SupplierID, &o.SupplierSKU, &o.ProductID, &variantID, &o.Price, &o.Stock, &payload, &o.Hash, &o.UpdatedAt)
	if err != nil {
		return domain.SupplierOffer{}, err
	}
	o.VariantID = variantID.Int64
	if err := unmarshalJSON(payload, &o.Payload); err != nil {
		return domain.SupplierOffer{}, fmt.Errorf("offer %d payload: %w", o.ID, err)
	}
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (s *SQLStore) GetOffer(ctx context.Context, supplierID int64, supplierSKU string) (domain.SupplierOffer, bool, error) {
	o, err := scanOffer(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+offerCols+` FROM supplier_offers WHERE supplier_id = ? AND supplier_sku = ?`),
		supplierID, supplierSKU,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SupplierOffer{}, false, nil
	}
	if err != nil {
		return domain.SupplierOffer{}, false, err
	}
	return o, true, nil
}

func (s *SQLStore) UpsertOffer(ctx context.Context, o domain.SupplierOffer) (domain.SupplierOffer, error) {
	payload, err := marshalJSON(o.Payload)
	if err != nil {
		return domain.SupplierOffer{}, err
	}

	now := nowUTC()
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO supplier_offers (supplier_id, supplier_sku, product_id, variant_id, price, stock, payload, hash, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`+
			s.upsertClause(
				[]string{"supplier_id", "supplier_sku"},
				[]string{"product_id", "variant_id", "price", "stock", "payload", "hash", "updated_at"},
				true,
			),
		o.SupplierID, o.SupplierSKU, o.ProductID, nullInt64(o.VariantID), o.Price, o.Stock, payload, o.Hash, now,
	)
	if err != nil {
		return domain.SupplierOffer{}, err
	}
	o.ID = id
	o.UpdatedAt = now
	return o, nil
}

func (s *SQLStore) ListOffers(ctx context.Context, productID int64) ([]domain.SupplierOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+offerCols+` FROM supplier_offers WHERE product_id = ? ORDER BY id`),
		productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SupplierOffer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
