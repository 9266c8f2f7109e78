package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/model"
)

const productColumns = `id, name, category, price, image, description, is_featured,
	stock, average_rating, review_count, created_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p        model.Product
		category string
		price    int64
	)
	err := row.Scan(&p.ID, &p.Name, &category, &price, &p.Image, &p.Description, &p.IsFeatured,
		&p.Stock, &p.AverageRating, &p.ReviewCount, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Category = model.Category(category)
	p.Price = fromMinor(price)
	return &p, nil
}

func (r *PostgresRepository) listProducts(ctx context.Context, query string, args ...any) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// ListProducts возвращает весь каталог.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	return r.listProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

// SearchProducts ищет товары по тексту, категории и диапазону цен.
func (r *PostgresRepository) SearchProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + q + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(string(f.Category)))
	}
	if f.MinPrice != nil {
		where = append(where, "price >= "+arg(toMinor(*f.MinPrice)))
	}
	if f.MaxPrice != nil {
		where = append(where, "price <= "+arg(toMinor(*f.MaxPrice)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	switch f.SortBy {
	case "price-asc":
		query += " ORDER BY price ASC"
	case "price-desc":
		query += " ORDER BY price DESC"
	case "newest":
		query += " ORDER BY created_at DESC"
	case "rating":
		query += " ORDER BY average_rating DESC"
	default:
		query += " ORDER BY is_featured DESC, id DESC"
	}

	return r.listProducts(ctx, query, args...)
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// CreateProduct добавляет товар в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, category, price, image, description, is_featured, stock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		p.Name, string(p.Category), toMinor(p.Price), p.Image, p.Description, p.IsFeatured, p.Stock,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateProduct сохраняет изменяемые поля товара.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p *model.Product) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products
		 SET name = $2, category = $3, price = $4, image = $5, description = $6, is_featured = $7, stock = $8
		 WHERE id = $1`,
		p.ID, p.Name, string(p.Category), toMinor(p.Price), p.Image, p.Description, p.IsFeatured, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct удаляет товар вместе с отзывами.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

const reviewColumns = `id, product_id, customer_email, customer_name, rating, comment, verified, created_at`

func scanReview(row pgx.Row) (*model.Review, error) {
	var rv model.Review
	err := row.Scan(&rv.ID, &rv.ProductID, &rv.CustomerEmail, &rv.CustomerName,
		&rv.Rating, &rv.Comment, &rv.Verified, &rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &rv, nil
}

// refreshRating пересчитывает средний рейтинг и число отзывов товара.
func refreshRating(ctx context.Context, tx pgx.Tx, productID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE products p
		 SET average_rating = COALESCE(s.avg, 0), review_count = s.cnt
		 FROM (SELECT ROUND(AVG(rating)::numeric, 2)::float8 AS avg, COUNT(*) AS cnt
		       FROM reviews WHERE product_id = $1) s
		 WHERE p.id = $1`,
		productID,
	)
	if err != nil {
		return fmt.Errorf("refresh rating: %w", err)
	}
	return nil
}

// CreateReview сохраняет отзыв и обновляет рейтинг товара в одной транзакции.
func (r *PostgresRepository) CreateReview(ctx context.Context, rv *model.Review) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var productID int64
	err = tx.QueryRow(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, rv.ProductID).Scan(&productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return fmt.Errorf("lock product: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO reviews (product_id, customer_email, customer_name, rating, comment, verified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rv.ProductID, rv.CustomerEmail, rv.CustomerName, rv.Rating, rv.Comment, rv.Verified,
	).Scan(&rv.ID, &rv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	if err := refreshRating(ctx, tx, rv.ProductID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) listReviews(ctx context.Context, query string, args ...any) ([]model.Review, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return reviews, nil
}

// ListReviewsByProduct возвращает отзывы о товаре, новые первыми.
func (r *PostgresRepository) ListReviewsByProduct(ctx context.Context, productID int64) ([]model.Review, error) {
	return r.listReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE product_id = $1 ORDER BY created_at DESC`, productID)
}

// ListReviews возвращает все отзывы, новые первыми.
func (r *PostgresRepository) ListReviews(ctx context.Context) ([]model.Review, error) {
	return r.listReviews(ctx, `SELECT `+reviewColumns+` FROM reviews ORDER BY created_at DESC`)
}

// SetReviewVerified отмечает отзыв как подтверждённый покупкой.
func (r *PostgresRepository) SetReviewVerified(ctx context.Context, id int64, verified bool) (*model.Review, error) {
	return scanReview(r.pool.QueryRow(ctx,
		`UPDATE reviews SET verified = $2 WHERE id = $1 RETURNING `+reviewColumns, id, verified))
}

// DeleteReview удаляет отзыв и пересчитывает рейтинг товара.
func (r *PostgresRepository) DeleteReview(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var productID int64
	err = tx.QueryRow(ctx, `DELETE FROM reviews WHERE id = $1 RETURNING product_id`, id).Scan(&productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReviewNotFound
		}
		return fmt.Errorf("delete review: %w", err)
	}

	if err := refreshRating(ctx, tx, productID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
