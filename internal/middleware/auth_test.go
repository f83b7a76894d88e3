package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/request"
)

type stubVerifier struct {
	claims *models.JWTClaims
	err    error
}

func (v *stubVerifier) Verify(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	return v.claims, v.err
}

type mockUserStore struct {
	getByProviderIDFunc func(ctx context.Context, providerID string) (*models.User, error)
	createFunc          func(ctx context.Context, user *models.User) error
	updateFunc          func(ctx context.Context, user *models.User) error
}

func (m *mockUserStore) GetByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	if m.getByProviderIDFunc != nil {
		return m.getByProviderIDFunc(ctx, providerID)
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserStore) Create(ctx context.Context, user *models.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserStore) Update(ctx context.Context, user *models.User) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, user)
	}
	return nil
}

var (
	_ TokenVerifier = (*stubVerifier)(nil)
	_ UserStore     = (*mockUserStore)(nil)
)

func authedHandler(t *testing.T, gotUser **models.User) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := request.UserFromContext(r)
		if user == nil {
			t.Error("Expected user in request context")
		}
		*gotUser = user
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_MissingHeader(t *testing.T) {
	t.Parallel()

	mw := Auth(&mockUserStore{}, &stubVerifier{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called without credentials")
	}))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuth_MalformedHeader(t *testing.T) {
	t.Parallel()

	mw := Auth(&mockUserStore{}, &stubVerifier{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called without credentials")
	}))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	t.Parallel()

	mw := Auth(&mockUserStore{}, &stubVerifier{err: errors.New("token expired")})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called with an invalid token")
	}))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuth_ExistingUser(t *testing.T) {
	t.Parallel()

	providerID := "provider-sub-123"
	existing := &models.User{
		ID:         uuid.New(),
		Email:      "user@example.com",
		ProviderID: &providerID,
	}
	store := &mockUserStore{
		getByProviderIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			if id != providerID {
				t.Errorf("Expected lookup by %q, got %q", providerID, id)
			}
			return existing, nil
		},
		createFunc: func(ctx context.Context, user *models.User) error {
			t.Error("Create should not be called for an existing user")
			return nil
		},
	}
	verifier := &stubVerifier{claims: &models.JWTClaims{Sub: providerID, Email: "user@example.com"}}

	var gotUser *models.User
	handler := Auth(store, verifier)(authedHandler(t, &gotUser))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotUser == nil || gotUser.ID != existing.ID {
		t.Error("Expected the existing user in request context")
	}
}

func TestAuth_ProvisionsNewUser(t *testing.T) {
	t.Parallel()

	var created *models.User
	store := &mockUserStore{
		getByProviderIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return nil, sql.ErrNoRows
		},
		createFunc: func(ctx context.Context, user *models.User) error {
			created = user
			return nil
		},
	}
	verifier := &stubVerifier{claims: &models.JWTClaims{
		Sub:   "new-subject",
		Email: "new@example.com",
		Name:  "New User",
	}}

	var gotUser *models.User
	handler := Auth(store, verifier)(authedHandler(t, &gotUser))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if created == nil {
		t.Fatal("Expected a user to be provisioned")
	}
	if created.Email != "new@example.com" {
		t.Errorf("Expected provisioned email 'new@example.com', got %q", created.Email)
	}
	if created.ProviderID == nil || *created.ProviderID != "new-subject" {
		t.Error("Expected provisioned user to carry the token subject")
	}
	if gotUser != created {
		t.Error("Expected the provisioned user in request context")
	}
}

func TestAuth_SyncsChangedProfile(t *testing.T) {
	t.Parallel()

	providerID := "provider-sub-456"
	existing := &models.User{
		ID:         uuid.New(),
		Email:      "old@example.com",
		ProviderID: &providerID,
	}
	var updated *models.User
	store := &mockUserStore{
		getByProviderIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, user *models.User) error {
			updated = user
			return nil
		},
	}
	verifier := &stubVerifier{claims: &models.JWTClaims{
		Sub:   providerID,
		Email: "new@example.com",
		Name:  "Renamed",
	}}

	var gotUser *models.User
	handler := Auth(store, verifier)(authedHandler(t, &gotUser))

	req := httptest.NewRequest("GET", "/api/v1/monitors", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if updated == nil {
		t.Fatal("Expected profile sync to call Update")
	}
	if updated.Email != "new@example.com" {
		t.Errorf("Expected synced email 'new@example.com', got %q", updated.Email)
	}
	if updated.Name == nil || *updated.Name != "Renamed" {
		t.Error("Expected synced name 'Renamed'")
	}
}

func TestSyncClaims_NoChange(t *testing.T) {
	t.Parallel()

	name := "Same"
	user := &models.User{Email: "same@example.com", Name: &name}
	claims := &models.JWTClaims{Email: "same@example.com", Name: "Same"}

	if syncClaims(user, claims) {
		t.Error("Expected no change for identical claims")
	}
}
