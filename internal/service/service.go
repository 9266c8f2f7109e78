// Package service реализует бизнес-логику магазина.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/validation"
)

const (
	msgCredentialsRequired = "Email, password, and name are required."
	msgLoginRequired       = "Email and password are required."
	msgPasswordTooShort    = "Password must be at least 6 characters long."
	msgInvalidEmail        = "Please enter a valid email address."
	msgEmailRegistered     = "Email already registered."
	msgInvalidCredentials  = "Invalid email or password."
	msgUserNotFound        = "User not found"
	msgInvalidRole         = "Invalid role"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserRole(ctx context.Context, email string, role model.Role) (*model.User, error)
	DeleteUser(ctx context.Context, email string) error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*model.Order, error)
	ListOrdersByCustomer(ctx context.Context, email string) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrder(ctx context.Context, id string, mutate func(o *model.Order) error) (*model.Order, error)
	DeleteOrder(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]model.Product, error)
	SearchProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error

	CreateReview(ctx context.Context, rv *model.Review) error
	ListReviewsByProduct(ctx context.Context, productID int64) ([]model.Review, error)
	ListReviews(ctx context.Context) ([]model.Review, error)
	SetReviewVerified(ctx context.Context, id int64, verified bool) (*model.Review, error)
	DeleteReview(ctx context.Context, id int64) error
}

// TokenIssuer выпускает токены сессии.
type TokenIssuer interface {
	IssueToken(userID int64) (string, error)
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	gateway  Gateway
	tokens   TokenIssuer
	logger   *zap.Logger
	hashCost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService создаёт новый сервис с указанным репозиторием, платёжным шлюзом и
// выпускающим токены компонентом.
func NewService(repo Repository, gateway Gateway, tokens TokenIssuer, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		tokens:   tokens,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// AuthResult — ответ на успешную регистрацию или вход.
type AuthResult struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

func (s *Service) authResult(u *model.User) (*AuthResult, error) {
	token, err := s.tokens.IssueToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: u.Public()}, nil
}

// RegisterUser регистрирует нового покупателя и выпускает для него токен.
func (s *Service) RegisterUser(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" || password == "" || name == "" {
		return nil, apperr.Validation(msgCredentialsRequired)
	}
	if len(password) < validation.MinPasswordLength {
		return nil, apperr.Validation(msgPasswordTooShort)
	}
	if !validation.IsValidEmail(email) {
		return nil, apperr.Validation(msgInvalidEmail)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hashed,
		Role:         model.RoleCustomer,
	}

	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, apperr.Wrap(apperr.ErrValidation, msgEmailRegistered, err)
		}
		return nil, err
	}
	u.ID = id

	return s.authResult(u)
}

// AuthenticateUser проверяет email и пароль. Неизвестный email и неверный
// пароль неразличимы для вызывающей стороны.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation(msgLoginRequired)
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Сравнение с фиктивным хешем выравнивает время ответа для
			// неизвестного email.
			_ = bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(password))
			return nil, apperr.Wrap(apperr.ErrAuthentication, msgInvalidCredentials, err)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, apperr.Wrap(apperr.ErrAuthentication, msgInvalidCredentials, err)
	}

	return s.authResult(u)
}

func (s *Service) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("invalid-password-placeholder"), s.hashCost)
		if err != nil {
			s.logger.Error("generate dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers возвращает публичные проекции всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]model.PublicUser, 0, len(users))
	for i := range users {
		res = append(res, users[i].Public())
	}
	return res, nil
}

// GetUser возвращает пользователя по email.
func (s *Service) GetUser(ctx context.Context, email string) (*model.PublicUser, error) {
	u, err := s.repo.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return nil, userNotFound(err)
	}
	pub := u.Public()
	return &pub, nil
}

// UpdateUserRole меняет роль пользователя. Новая роль действует с
// ближайшего запроса пользователя, без повторного входа.
func (s *Service) UpdateUserRole(ctx context.Context, email string, role model.Role) (*model.PublicUser, error) {
	if !role.Valid() {
		return nil, apperr.Validation(msgInvalidRole)
	}

	u, err := s.repo.UpdateUserRole(ctx, validation.NormalizeEmail(email), role)
	if err != nil {
		return nil, userNotFound(err)
	}

	s.logger.Info("user role changed", zap.String("email", u.Email), zap.String("role", string(role)))

	pub := u.Public()
	return &pub, nil
}

// DeleteUser удаляет пользователя.
func (s *Service) DeleteUser(ctx context.Context, email string) error {
	if err := s.repo.DeleteUser(ctx, validation.NormalizeEmail(email)); err != nil {
		return userNotFound(err)
	}
	return nil
}

func userNotFound(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, msgUserNotFound, err)
	}
	return err
}
