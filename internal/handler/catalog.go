package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

type productResponse struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Category      model.Category  `json:"category"`
	Price         decimal.Decimal `json:"price"`
	Image         string          `json:"image"`
	Description   string          `json:"description"`
	IsFeatured    bool            `json:"isFeatured"`
	Stock         int             `json:"stock"`
	AverageRating float64         `json:"averageRating"`
	ReviewCount   int             `json:"reviewCount"`
	CreatedAt     string          `json:"createdAt"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price,
		Image:         p.Image,
		Description:   p.Description,
		IsFeatured:    p.IsFeatured,
		Stock:         p.Stock,
		AverageRating: p.AverageRating,
		ReviewCount:   p.ReviewCount,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toProductList(products []model.Product) []productResponse {
	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	return resp
}

// productRequest используется и для создания, и для частичного изменения.
type productRequest struct {
	Name        *string          `json:"name"`
	Category    *model.Category  `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	Image       *string          `json:"image"`
	Description *string          `json:"description"`
	IsFeatured  *bool            `json:"isFeatured"`
	Stock       *int             `json:"stock"`
}

func (req productRequest) patch() service.ProductPatch {
	return service.ProductPatch{
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		Image:       req.Image,
		Description: req.Description,
		IsFeatured:  req.IsFeatured,
		Stock:       req.Stock,
	}
}

func (req productRequest) product() *model.Product {
	p := &model.Product{}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Category != nil {
		p.Category = *req.Category
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Image != nil {
		p.Image = *req.Image
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.IsFeatured != nil {
		p.IsFeatured = *req.IsFeatured
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	return p
}

// ListProducts возвращает каталог.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductList(products))
}

func parsePrice(raw string) (*decimal.Decimal, bool) {
	if raw == "" {
		return nil, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, false
	}
	return &d, true
}

// SearchProducts ищет товары по q, category, minPrice, maxPrice и sortBy.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minPrice, ok := parsePrice(q.Get("minPrice"))
	if !ok {
		writeMessage(w, http.StatusBadRequest, msgInvalidPrice)
		return
	}
	maxPrice, ok := parsePrice(q.Get("maxPrice"))
	if !ok {
		writeMessage(w, http.StatusBadRequest, msgInvalidPrice)
		return
	}

	f := model.ProductFilter{
		Query:    q.Get("q"),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		SortBy:   q.Get("sortBy"),
	}
	if c := q.Get("category"); c != "" && c != "All" {
		f.Category = model.Category(c)
	}

	products, err := h.service.SearchProducts(r.Context(), f)
	if err != nil {
		h.writeError(w, r, "search products", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductList(products))
}

// GetProduct возвращает товар.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// CreateProduct добавляет товар.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), req.product())
	if err != nil {
		h.writeError(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// UpdateProduct частично меняет товар.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), id, req.patch())
	if err != nil {
		h.writeError(w, r, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// DeleteProduct удаляет товар.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, r, "delete product", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}

type reviewResponse struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"productId"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
	Verified      bool   `json:"verified"`
	CreatedAt     string `json:"createdAt"`
}

func toReviewResponse(rv *model.Review) reviewResponse {
	return reviewResponse{
		ID:            rv.ID,
		ProductID:     rv.ProductID,
		CustomerEmail: rv.CustomerEmail,
		CustomerName:  rv.CustomerName,
		Rating:        rv.Rating,
		Comment:       rv.Comment,
		Verified:      rv.Verified,
		CreatedAt:     rv.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toReviewList(reviews []model.Review) []reviewResponse {
	resp := make([]reviewResponse, 0, len(reviews))
	for i := range reviews {
		resp = append(resp, toReviewResponse(&reviews[i]))
	}
	return resp
}

type createReviewRequest struct {
	ProductID int64  `json:"productId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// CreateReview сохраняет отзыв текущего пользователя.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rv, err := h.service.CreateReview(r.Context(), currentUser(r), req.ProductID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, r, "create review", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReviewResponse(rv))
}

// ListProductReviews возвращает отзывы о товаре.
func (h *Handler) ListProductReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "productId")
	if !ok {
		return
	}

	reviews, err := h.service.ListProductReviews(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "list product reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewList(reviews))
}

// ListReviews возвращает все отзывы.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.ListReviews(r.Context())
	if err != nil {
		h.writeError(w, r, "list reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewList(reviews))
}

type verifyReviewRequest struct {
	Verified *bool `json:"verified"`
}

// VerifyReview меняет отметку о подтверждённой покупке.
func (h *Handler) VerifyReview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req verifyReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Verified == nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	rv, err := h.service.VerifyReview(r.Context(), id, *req.Verified)
	if err != nil {
		h.writeError(w, r, "verify review", err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rv))
}

// DeleteReview удаляет отзыв.
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteReview(r.Context(), id); err != nil {
		h.writeError(w, r, "delete review", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Review deleted"})
}

// ListPickupLocations возвращает пункты выдачи.
func (h *Handler) ListPickupLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PickupLocations())
}

// SearchPickupLocations ищет пункты выдачи по названию или району.
func (h *Handler) SearchPickupLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SearchPickupLocations(r.URL.Query().Get("q")))
}
