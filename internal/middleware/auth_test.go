package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

type stubUsers struct {
	users map[int64]*model.User
	err   error
}

func (s *stubUsers) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func newStubUsers() *stubUsers {
	return &stubUsers{users: map[int64]*model.User{
		42: {ID: 42, Email: "jane@example.com", Name: "Jane", Role: model.RoleCustomer},
		7:  {ID: 7, Email: "boss@example.com", Name: "Boss", Role: model.RoleAdmin},
	}}
}

func authRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour, newStubUsers())

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		u, ok := GetUserFromContext(r.Context())
		if !ok {
			t.Fatalf("user not in context")
		}
		if u.ID != 42 {
			t.Fatalf("user id from context = %d, want 42", u.ID)
		}
	})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), authRequest(token))

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour, newStubUsers())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, authRequest(""))

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_RejectsForeignSignature(t *testing.T) {
	issuer := NewAuthMiddleware("other-secret", time.Hour, newStubUsers())
	m := NewAuthMiddleware("test-secret", time.Hour, newStubUsers())

	token, err := issuer.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, err = m.Authorize(context.Background(), token)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("err = %v, want authentication error", err)
	}
	if err.Error() != MessageSessionExpired {
		t.Fatalf("message = %q, want %q", err.Error(), MessageSessionExpired)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Minute, newStubUsers())
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := m.Authorize(context.Background(), token); !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("err = %v, want authentication error", err)
	}
}

func TestAuthMiddleware_ZeroTTLNeverExpires(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 0, newStubUsers())
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	m.now = func() time.Time { return issued.AddDate(5, 0, 0) }
	if _, err := m.Authorize(context.Background(), token); err != nil {
		t.Fatalf("authorize: %v", err)
	}
}

func TestRequireRoles_Forbidden(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour, newStubUsers())

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	m.RequireRoles(model.StaffRoles...)(next).ServeHTTP(w, authRequest(token))

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
	if !strings.Contains(w.Body.String(), MessageForbiddenRole) {
		t.Fatalf("body %q does not contain %q", w.Body.String(), MessageForbiddenRole)
	}
}

func TestRequireRoles_RoleChangeAppliesImmediately(t *testing.T) {
	users := newStubUsers()
	m := NewAuthMiddleware("test-secret", time.Hour, users)

	token, err := m.IssueToken(7)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := m.RequireRoles(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status before demotion = %d, want %d", w.Code, http.StatusOK)
	}

	users.users[7].Role = model.RoleSupport

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(token))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status after demotion = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAuthMiddleware_DeletedUser(t *testing.T) {
	users := newStubUsers()
	m := NewAuthMiddleware("test-secret", time.Hour, users)

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	delete(users.users, 42)

	w := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, authRequest(token))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_StoreFailure(t *testing.T) {
	users := newStubUsers()
	m := NewAuthMiddleware("test-secret", time.Hour, users)

	token, err := m.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	users.err = errors.New("connection reset by peer")

	w := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, authRequest(token))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), MessageSessionExpired) {
		t.Fatalf("store failure reported as expired session: %q", w.Body.String())
	}
}

func TestNewAuthMiddleware_RandomKeyWithoutSecret(t *testing.T) {
	a := NewAuthMiddleware("", time.Hour, newStubUsers())
	b := NewAuthMiddleware("", time.Hour, newStubUsers())

	if len(a.secretKey) == 0 {
		t.Fatalf("empty signing key")
	}
	if string(a.secretKey) == string(b.secretKey) {
		t.Fatalf("generated signing keys are equal")
	}

	token, err := a.IssueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := b.Authorize(context.Background(), token); !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("err = %v, want authentication error", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(r); got != tt.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
