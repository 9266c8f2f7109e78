// Package middleware содержит HTTP middleware магазина.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

type contextKey string

const userKey contextKey = "user"

const (
	// MessageSessionExpired — единое сообщение для любой ошибки аутентификации по токену.
	MessageSessionExpired = "Session expired. Please log in again."
	// MessageForbiddenRole — сообщение при недостаточной роли.
	MessageForbiddenRole = "Unauthorized access for your role."

	msgInternalError = "Internal server error"
)

// UserLoader загружает актуальное состояние пользователя.
type UserLoader interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthMiddleware выпускает и проверяет подписанные токены сессии. В токене
// хранится только идентификатор пользователя: роль перечитывается из
// хранилища при каждом запросе, поэтому её изменение действует сразу.
type AuthMiddleware struct {
	secretKey []byte
	ttl       time.Duration
	users     UserLoader
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware. При пустом секрете
// генерируется случайный ключ, действующий до перезапуска процесса. ttl, равный
// нулю, выпускает бессрочные токены.
func NewAuthMiddleware(secret string, ttl time.Duration, users UserLoader) *AuthMiddleware {
	if secret == "" {
		secret = rand.Text()
	}
	key := []byte(secret)

	return &AuthMiddleware{
		secretKey: key,
		ttl:       ttl,
		users:     users,
		now:       time.Now,
	}
}

// IssueToken выпускает токен сессии для пользователя.
func (a *AuthMiddleware) IssueToken(userID int64) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *AuthMiddleware) parseToken(tokenStr string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return id, nil
}

// Authorize проверяет токен, загружает пользователя и сверяет его текущую роль
// с разрешёнными. Пустой список ролей допускает любого пользователя.
func (a *AuthMiddleware) Authorize(ctx context.Context, token string, allowed ...model.Role) (*model.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.ErrAuthentication, MessageSessionExpired)
	}

	userID, err := a.parseToken(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrAuthentication, MessageSessionExpired, err)
	}

	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.ErrAuthentication, MessageSessionExpired, err)
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	if len(allowed) > 0 && !user.Role.In(allowed...) {
		return nil, apperr.New(apperr.ErrAuthorization, MessageForbiddenRole)
	}

	return user, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Middleware проверяет токен любого аутентифицированного пользователя.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return a.RequireRoles()(next)
}

// RequireRoles проверяет токен и роль пользователя и кладёт пользователя в контекст запроса.
func (a *AuthMiddleware) RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authorize(r.Context(), bearerToken(r), roles...)
			if err != nil {
				switch {
				case errors.Is(err, apperr.ErrAuthorization):
					writeError(w, http.StatusForbidden, err.Error())
				case errors.Is(err, apperr.ErrAuthentication):
					writeError(w, http.StatusUnauthorized, err.Error())
				default:
					writeError(w, http.StatusInternalServerError, msgInternalError)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser возвращает контекст с аутентифицированным пользователем.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUserFromContext извлекает аутентифицированного пользователя из контекста запроса.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
