package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

const (
	msgProductNotFound  = "Product not found"
	msgReviewNotFound   = "Review not found"
	msgInvalidProduct   = "Product needs a name, a valid category, a non-negative price and stock."
	msgReviewRequired   = "ProductId, rating, and comment are required"
	msgRatingOutOfRange = "Rating must be between 1 and 5"
)

// ProductPatch — частичное изменение товара. Пустые поля не меняются.
type ProductPatch struct {
	Name        *string
	Category    *model.Category
	Price       *decimal.Decimal
	Image       *string
	Description *string
	IsFeatured  *bool
	Stock       *int
}

func validateProduct(p *model.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || !p.Category.Valid() || p.Price.IsNegative() || p.Stock < 0 {
		return apperr.Validation(msgInvalidProduct)
	}
	return nil
}

// ListProducts возвращает весь каталог.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// SearchProducts ищет товары по фильтру.
func (s *Service) SearchProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	if f.Category != "" && !f.Category.Valid() {
		return []model.Product{}, nil
	}
	return s.repo.SearchProducts(ctx, f)
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, productNotFound(err)
	}
	return p, nil
}

// CreateProduct добавляет товар в каталог.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct применяет частичное изменение товара.
func (s *Service) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*model.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, productNotFound(err)
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Image != nil {
		p.Image = *patch.Image
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.IsFeatured != nil {
		p.IsFeatured = *patch.IsFeatured
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}

	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, productNotFound(err)
	}
	return p, nil
}

// DeleteProduct удаляет товар вместе с отзывами.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return productNotFound(err)
	}
	return nil
}

// CreateReview сохраняет отзыв вызывающего пользователя о товаре.
func (s *Service) CreateReview(ctx context.Context, caller *model.User, productID int64, rating int, comment string) (*model.Review, error) {
	comment = strings.TrimSpace(comment)
	if productID == 0 || rating == 0 || comment == "" {
		return nil, apperr.Validation(msgReviewRequired)
	}
	if rating < 1 || rating > 5 {
		return nil, apperr.Validation(msgRatingOutOfRange)
	}

	rv := &model.Review{
		ProductID:     productID,
		CustomerEmail: caller.Email,
		CustomerName:  caller.Name,
		Rating:        rating,
		Comment:       comment,
	}
	if err := s.repo.CreateReview(ctx, rv); err != nil {
		return nil, productNotFound(err)
	}
	return rv, nil
}

// ListProductReviews возвращает отзывы о товаре, новые первыми.
func (s *Service) ListProductReviews(ctx context.Context, productID int64) ([]model.Review, error) {
	return s.repo.ListReviewsByProduct(ctx, productID)
}

// ListReviews возвращает все отзывы.
func (s *Service) ListReviews(ctx context.Context) ([]model.Review, error) {
	return s.repo.ListReviews(ctx)
}

// VerifyReview меняет отметку о подтверждённой покупке.
func (s *Service) VerifyReview(ctx context.Context, id int64, verified bool) (*model.Review, error) {
	rv, err := s.repo.SetReviewVerified(ctx, id, verified)
	if err != nil {
		return nil, reviewNotFound(err)
	}
	return rv, nil
}

// DeleteReview удаляет отзыв.
func (s *Service) DeleteReview(ctx context.Context, id int64) error {
	if err := s.repo.DeleteReview(ctx, id); err != nil {
		return reviewNotFound(err)
	}
	return nil
}

func productNotFound(err error) error {
	if errors.Is(err, repository.ErrProductNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, msgProductNotFound, err)
	}
	return err
}

func reviewNotFound(err error) error {
	if errors.Is(err, repository.ErrReviewNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, msgReviewNotFound, err)
	}
	return err
}
