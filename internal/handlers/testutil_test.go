package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/middleware"
	"github.com/formbridge/backend/internal/models"
	"github.com/formbridge/backend/internal/services"
	"github.com/formbridge/backend/pkg/logger"
	"github.com/formbridge/backend/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

var testInitOnce sync.Once

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	cfg *config.Config
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, nil)
}

// setupTestEnvWithConfig mounts the full route table against an in-memory
// database. The mutator runs before services are wired, so tests can point
// the Airtable endpoints at httptest servers.
func setupTestEnvWithConfig(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	testInitOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("handler-test-secret", 168)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.User{}, &models.Form{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: "handler-test-secret", ExpirationHours: 168},
		Server: config.ServerConfig{
			Port:        "0",
			FrontendURL: "http://frontend.test",
		},
		Airtable: config.AirtableConfig{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:8080/api/auth/airtable/callback",
			Scopes:       "data.records:read,schema.bases:read",
			AuthURL:      "https://airtable.test/oauth2/v1/authorize",
			TokenURL:     "https://airtable.test/oauth2/v1/token",
			APIBaseURL:   "https://api.airtable.test",
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	authService := services.NewAirtableAuthService(db, cfg)
	formService := services.NewFormService(db)

	authHandler := NewAuthHandler(db, cfg, authService)
	airtableHandler := NewAirtableHandler(cfg)
	formsHandler := NewFormsHandler(db, cfg, formService, authService)

	authMiddleware := middleware.NewAuthMiddleware(db, authService)

	app := fiber.New()
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Get("/airtable", authHandler.Login)
	authRoutes.Get("/airtable/callback", authHandler.Callback)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Post("/logout", authHandler.Logout)

	airtableRoutes := api.Group("/airtable", authMiddleware.RequireAuth)
	airtableRoutes.Get("/bases", airtableHandler.ListBases)
	airtableRoutes.Get("/bases/:baseId/tables", airtableHandler.ListTables)
	airtableRoutes.Get("/bases/:baseId/tables/:tableId/fields", airtableHandler.ListFields)
	airtableRoutes.Get("/bases/:baseId/tables/:tableId/records", airtableHandler.ListRecords)
	airtableRoutes.Post("/bases/:baseId/tables/:tableId/records", airtableHandler.CreateRecord)

	formRoutes := api.Group("/forms")
	formRoutes.Post("/", authMiddleware.RequireAuth, formsHandler.Create)
	formRoutes.Get("/", authMiddleware.RequireAuth, formsHandler.List)
	formRoutes.Get("/:formId", authMiddleware.OptionalAuth, formsHandler.Get)
	formRoutes.Put("/:formId", authMiddleware.RequireAuth, formsHandler.Update)
	formRoutes.Delete("/:formId", authMiddleware.RequireAuth, formsHandler.Delete)

	publicRoutes := api.Group("/public/forms")
	publicRoutes.Get("/:formId", formsHandler.PublicGet)
	publicRoutes.Post("/:formId/submit", formsHandler.PublicSubmit)

	return &testEnv{app: app, db: db, cfg: cfg}
}

// createTestUser seeds a connected user with an unexpired Airtable token and
// returns a session token for them.
func createTestUser(t *testing.T, db *gorm.DB, airtableID string) (*models.User, string) {
	t.Helper()

	refreshToken := "seed-refresh-token"
	expiresAt := time.Now().Add(time.Hour)
	user := &models.User{
		AirtableID:     airtableID,
		Email:          airtableID + "@example.com",
		Name:           "Test User",
		AccessToken:    "seed-access-token",
		RefreshToken:   &refreshToken,
		TokenExpiresAt: &expiresAt,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed seeding user: %v", err)
	}

	token, err := utils.GenerateToken(user.ID)
	if err != nil {
		t.Fatalf("failed generating session token: %v", err)
	}
	return user, token
}

func performRequest(t *testing.T, app *fiber.App, method, target string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, target, err)
	}
	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, target string, payload interface{}, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed marshaling payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"

	return performRequest(t, app, method, target, body, headers)
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed decoding response body: %v", err)
	}
	return decoded
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()

	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, resp *http.Response, expectedStatus int, expectedMessage string) map[string]any {
	t.Helper()

	body := decodeJSONMap(t, resp)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d, got %d (body %v)", expectedStatus, resp.StatusCode, body)
	}
	if success, ok := body["success"].(bool); !ok || success {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if message, _ := body["error"].(string); message != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, body["error"])
	}
	return body
}

func envelopeData(t *testing.T, resp *http.Response, expectedStatus int) map[string]any {
	t.Helper()

	body := decodeJSONMap(t, resp)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d, got %d (body %v)", expectedStatus, resp.StatusCode, body)
	}
	if success, ok := body["success"].(bool); !ok || !success {
		t.Fatalf("expected success=true, got %v (body %v)", body["success"], body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}
