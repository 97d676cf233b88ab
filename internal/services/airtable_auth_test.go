package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/models"
	"gorm.io/gorm"
)

type stubAirtableAuth struct {
	tokenServer  *httptest.Server
	apiServer    *httptest.Server
	refreshCalls atomic.Int64

	rejectExchange bool
}

func newStubAirtableAuth(t *testing.T) *stubAirtableAuth {
	t.Helper()

	stub := &stubAirtableAuth{}

	stub.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		switch r.FormValue("grant_type") {
		case "authorization_code":
			if stub.rejectExchange || r.FormValue("code") != "good-code" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			writeTokenResponse(w, "initial-access-token", "initial-refresh-token", 3600)
		case "refresh_token":
			stub.refreshCalls.Add(1)
			if r.FormValue("refresh_token") == "" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			writeTokenResponse(w, "refreshed-access-token", "rotated-refresh-token", 3600)
		default:
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(stub.tokenServer.Close)

	stub.apiServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/meta/whoami" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer initial-access-token" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":            "usrStub123",
			"email":         "Stub@Example.com",
			"name":          "Stub User",
			"profilePicUrl": "https://example.com/pic.png",
		})
	}))
	t.Cleanup(stub.apiServer.Close)

	return stub
}

func writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
		"token_type":    "Bearer",
	})
}

func newAuthServiceForTest(t *testing.T, stub *stubAirtableAuth) (*AirtableAuthService, *gorm.DB) {
	t.Helper()

	db := openTestDB(t)
	cfg := &config.Config{
		Airtable: config.AirtableConfig{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:8080/api/auth/airtable/callback",
			Scopes:       "data.records:read,schema.bases:read",
			AuthURL:      "https://airtable.example/oauth2/v1/authorize",
			TokenURL:     stub.tokenServer.URL,
			APIBaseURL:   stub.apiServer.URL,
		},
	}
	return NewAirtableAuthService(db, cfg), db
}

func TestAuthCodeURL(t *testing.T) {
	stub := newStubAirtableAuth(t)
	service, _ := newAuthServiceForTest(t, stub)

	raw := service.AuthCodeURL("csrf-state-123")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed parsing auth url: %v", err)
	}

	query := parsed.Query()
	if query.Get("client_id") != "test-client-id" {
		t.Errorf("expected client_id in auth url, got %q", query.Get("client_id"))
	}
	if query.Get("state") != "csrf-state-123" {
		t.Errorf("expected state echoed verbatim, got %q", query.Get("state"))
	}
	if query.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", query.Get("response_type"))
	}
	if !strings.Contains(query.Get("scope"), "data.records:read") {
		t.Errorf("expected scopes in auth url, got %q", query.Get("scope"))
	}
}

func TestExchangeCode(t *testing.T) {
	stub := newStubAirtableAuth(t)
	service, _ := newAuthServiceForTest(t, stub)

	t.Run("returns tokens for a valid code", func(t *testing.T) {
		token, err := service.ExchangeCode(context.Background(), "good-code")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token.AccessToken != "initial-access-token" {
			t.Errorf("unexpected access token %q", token.AccessToken)
		}
		if token.RefreshToken != "initial-refresh-token" {
			t.Errorf("unexpected refresh token %q", token.RefreshToken)
		}
		if token.Expiry.IsZero() {
			t.Error("expected a computed expiry from expires_in")
		}
	})

	t.Run("wraps a rejected code in ErrExternalAuth", func(t *testing.T) {
		_, err := service.ExchangeCode(context.Background(), "bad-code")
		if err == nil {
			t.Fatal("expected error for rejected code")
		}
		if !strings.Contains(err.Error(), ErrExternalAuth.Error()) {
			t.Fatalf("expected ErrExternalAuth, got %v", err)
		}
	})
}

func TestFetchUserInfo(t *testing.T) {
	stub := newStubAirtableAuth(t)
	service, _ := newAuthServiceForTest(t, stub)

	t.Run("returns the account identity", func(t *testing.T) {
		info, err := service.FetchUserInfo(context.Background(), "initial-access-token")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.ID != "usrStub123" {
			t.Errorf("unexpected airtable id %q", info.ID)
		}
		if info.Name != "Stub User" {
			t.Errorf("unexpected name %q", info.Name)
		}
	})

	t.Run("fails on a bad token", func(t *testing.T) {
		if _, err := service.FetchUserInfo(context.Background(), "wrong-token"); err == nil {
			t.Fatal("expected error for unauthorized whoami")
		}
	})
}

func TestUpsertUser(t *testing.T) {
	stub := newStubAirtableAuth(t)
	service, db := newAuthServiceForTest(t, stub)

	login := func(t *testing.T) *models.User {
		t.Helper()
		token, err := service.ExchangeCode(context.Background(), "good-code")
		if err != nil {
			t.Fatalf("exchange failed: %v", err)
		}
		info, err := service.FetchUserInfo(context.Background(), token.AccessToken)
		if err != nil {
			t.Fatalf("whoami failed: %v", err)
		}
		user, err := service.UpsertUser(context.Background(), info, token)
		if err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		return user
	}

	first := login(t)
	second := login(t)

	t.Run("login is idempotent on the airtable account", func(t *testing.T) {
		if first.ID != second.ID {
			t.Fatalf("expected the same user, got %s and %s", first.ID, second.ID)
		}
		var count int64
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected exactly one user, got %d", count)
		}
	})

	t.Run("normalizes email and stores tokens", func(t *testing.T) {
		var user models.User
		if err := db.First(&user, "airtable_id = ?", "usrStub123").Error; err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if user.Email != "stub@example.com" {
			t.Errorf("expected lowercased email, got %q", user.Email)
		}
		if user.AccessToken != "initial-access-token" {
			t.Errorf("unexpected access token %q", user.AccessToken)
		}
		if user.RefreshToken == nil || *user.RefreshToken == "" {
			t.Error("expected refresh token to be stored")
		}
		if user.TokenExpiresAt == nil || !user.TokenExpiresAt.After(time.Now()) {
			t.Error("expected a future token expiry")
		}
	})
}

func TestEnsureFreshToken(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	seedUser := func(t *testing.T, db *gorm.DB, expiresAt *time.Time, refreshToken *string) *models.User {
		t.Helper()
		user := &models.User{
			AirtableID:     "usrFresh" + time.Now().Format("150405.000000000"),
			Email:          "fresh@example.com",
			Name:           "Fresh User",
			AccessToken:    "stale-access-token",
			RefreshToken:   refreshToken,
			TokenExpiresAt: expiresAt,
		}
		if err := db.Create(user).Error; err != nil {
			t.Fatalf("failed seeding user: %v", err)
		}
		return user
	}

	strPtr := func(s string) *string { return &s }

	t.Run("refreshes and persists an expired token", func(t *testing.T) {
		stub := newStubAirtableAuth(t)
		service, db := newAuthServiceForTest(t, stub)
		user := seedUser(t, db, &past, strPtr("old-refresh-token"))

		if err := service.EnsureFreshToken(context.Background(), user); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := stub.refreshCalls.Load(); got != 1 {
			t.Fatalf("expected exactly one refresh call, got %d", got)
		}
		if user.AccessToken != "refreshed-access-token" {
			t.Errorf("expected refreshed access token, got %q", user.AccessToken)
		}
		if user.RefreshToken == nil || *user.RefreshToken != "rotated-refresh-token" {
			t.Errorf("expected rotated refresh token, got %v", user.RefreshToken)
		}

		var persisted models.User
		if err := db.First(&persisted, "id = ?", user.ID).Error; err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if persisted.AccessToken != "refreshed-access-token" {
			t.Errorf("expected the refresh to be persisted, got %q", persisted.AccessToken)
		}
		if persisted.TokenExpiresAt == nil || !persisted.TokenExpiresAt.After(time.Now()) {
			t.Error("expected a future persisted expiry")
		}
	})

	t.Run("rejects an expired token with no refresh token", func(t *testing.T) {
		stub := newStubAirtableAuth(t)
		service, db := newAuthServiceForTest(t, stub)
		user := seedUser(t, db, &past, nil)

		err := service.EnsureFreshToken(context.Background(), user)
		if err == nil {
			t.Fatal("expected error when no refresh token is on file")
		}
		if !strings.Contains(err.Error(), ErrExternalAuth.Error()) {
			t.Fatalf("expected ErrExternalAuth, got %v", err)
		}
		if got := stub.refreshCalls.Load(); got != 0 {
			t.Fatalf("expected no refresh attempts, got %d", got)
		}
	})

	t.Run("leaves an unexpired token alone", func(t *testing.T) {
		stub := newStubAirtableAuth(t)
		service, db := newAuthServiceForTest(t, stub)
		user := seedUser(t, db, &future, strPtr("unused-refresh-token"))

		if err := service.EnsureFreshToken(context.Background(), user); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := stub.refreshCalls.Load(); got != 0 {
			t.Fatalf("expected no refresh attempts, got %d", got)
		}
		if user.AccessToken != "stale-access-token" {
			t.Errorf("expected access token untouched, got %q", user.AccessToken)
		}
	})

	t.Run("treats a missing expiry as non-expiring", func(t *testing.T) {
		stub := newStubAirtableAuth(t)
		service, db := newAuthServiceForTest(t, stub)
		user := seedUser(t, db, nil, nil)

		if err := service.EnsureFreshToken(context.Background(), user); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := stub.refreshCalls.Load(); got != 0 {
			t.Fatalf("expected no refresh attempts, got %d", got)
		}
	})
}
