// Package handler содержит HTTP-обработчики API магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/checkout"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/mpesa"
	"github.com/mmeshcher/storefront/internal/report"
	"github.com/mmeshcher/storefront/internal/service"
)

const (
	msgInvalidBody     = "Invalid request body."
	msgInternal        = "Internal server error"
	msgNotFound        = "Endpoint not found"
	msgMethodNotAllow  = "Method not allowed"
	msgInvalidID       = "Invalid id."
	msgInvalidPrice    = "Invalid price filter."
	maxRequestBodySize = 10 << 20
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	RegisterUser(ctx context.Context, email, password, name string) (*service.AuthResult, error)
	AuthenticateUser(ctx context.Context, email, password string) (*service.AuthResult, error)
	ListUsers(ctx context.Context) ([]model.PublicUser, error)
	GetUser(ctx context.Context, email string) (*model.PublicUser, error)
	UpdateUserRole(ctx context.Context, email string, role model.Role) (*model.PublicUser, error)
	DeleteUser(ctx context.Context, email string) error

	CreateOrder(ctx context.Context, caller *model.User, in service.OrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, caller *model.User, id string) (*model.Order, error)
	ListMyOrders(ctx context.Context, caller *model.User) ([]model.Order, error)
	ListAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus, version *int64) (*model.Order, error)
	UpdateTracking(ctx context.Context, id, tracking string, version *int64) (*model.Order, error)
	SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, version *int64) (*model.Order, error)
	DeleteOrder(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]model.Product, error)
	SearchProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch service.ProductPatch) (*model.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateReview(ctx context.Context, caller *model.User, productID int64, rating int, comment string) (*model.Review, error)
	ListProductReviews(ctx context.Context, productID int64) ([]model.Review, error)
	ListReviews(ctx context.Context) ([]model.Review, error)
	VerifyReview(ctx context.Context, id int64, verified bool) (*model.Review, error)
	DeleteReview(ctx context.Context, id int64) error

	PickupLocations() []model.PickupLocation
	SearchPickupLocations(query string) []model.PickupLocation

	InitiatePayment(ctx context.Context, phone string, amount decimal.Decimal, orderID string) (*mpesa.STKPushResult, error)
	QueryPayment(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
	HandleCallback(ctx context.Context, cb *mpesa.CallbackResult) error
}

// Checkout — операции оформления заказа.
type Checkout interface {
	Start(caller *model.User, items []model.LineItem, delivery *checkout.Delivery) (checkout.View, error)
	Get(caller *model.User, id string) (checkout.View, error)
	SelectDelivery(caller *model.User, id string, d checkout.Delivery) (checkout.View, error)
	SubmitExpress(ctx context.Context, caller *model.User, id, phone string) (checkout.View, error)
	SubmitManual(ctx context.Context, caller *model.User, id, phone, code string) (checkout.View, error)
	Retry(caller *model.User, id string) (checkout.View, error)
	Abandon(caller *model.User, id string) error
}

// Reports — отчёты для панели управления.
type Reports interface {
	Overview(ctx context.Context) (*report.Overview, error)
	RevenueByDate(ctx context.Context) ([]report.DailyRevenue, error)
	StatusHistogram(ctx context.Context) ([]report.StatusCount, error)
	TopProducts(ctx context.Context) ([]report.ProductSales, error)
	CustomerMetrics(ctx context.Context) (*report.CustomerMetrics, error)
	PaymentMethods(ctx context.Context) ([]report.MethodCount, error)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service        Service
	checkout       Checkout
	reports        Reports
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	limiter        *middleware.RateLimiter
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. limiter
// может быть nil, тогда платёжные маршруты не ограничиваются.
func NewHandler(s Service, co Checkout, reports Reports, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		service:        s,
		checkout:       co,
		reports:        reports,
		logger:         logger,
		authMiddleware: auth,
		limiter:        limiter,
		now:            time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(kind error) int {
	switch kind {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrAuthentication:
		return http.StatusUnauthorized
	case apperr.ErrAuthorization:
		return http.StatusForbidden
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrPaymentInitiation:
		return http.StatusBadGateway
	case apperr.ErrPaymentTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError отвечает по классу внешней ошибки приложения. Остальные
// ошибки скрываются за общим сообщением и пишутся в журнал.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status := statusFor(appErr.Kind)
		if status >= http.StatusInternalServerError {
			h.logger.Warn(op, zap.String("request_id", chimiddleware.GetReqID(r.Context())), zap.Error(err))
		}
		writeMessage(w, status, appErr.Error())
		return
	}

	h.logger.Error(op, zap.String("request_id", chimiddleware.GetReqID(r.Context())), zap.Error(err))
	writeMessage(w, http.StatusInternalServerError, msgInternal)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func currentUser(r *http.Request) *model.User {
	u, _ := middleware.GetUserFromContext(r.Context())
	return u
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, msgInvalidID)
		return 0, false
	}
	return id, true
}

// Health сообщает о работе сервера и доступности БД.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	database := "Connected"
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check: database unavailable", zap.Error(err))
		database = "Disconnected"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"database":  database,
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register регистрирует покупателя и выдаёт токен сессии.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// Login выполняет аутентификацию и выдаёт токен сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, "login user", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Verify возвращает текущего пользователя по токену.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]model.PublicUser{"user": currentUser(r).Public()})
}

// ListUsers возвращает всех пользователей без хешей паролей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser возвращает пользователя по email.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUser(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, r, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

// UpdateUserRole меняет роль пользователя.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateUserRole(r.Context(), chi.URLParam(r, "email"), req.Role)
	if err != nil {
		h.writeError(w, r, "update user role", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteUser удаляет пользователя.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "email")); err != nil {
		h.writeError(w, r, "delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}
