package handlers

import (
	"net/url"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/middleware"
	"github.com/formbridge/backend/internal/services"
	"github.com/formbridge/backend/pkg/logger"
	"github.com/formbridge/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB   *gorm.DB
	Cfg  *config.Config
	Auth *services.AirtableAuthService
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, auth *services.AirtableAuthService) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg, Auth: auth}
}

// Login returns the Airtable authorization URL. An optional state value is
// embedded and echoed back verbatim at the callback.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	state := c.Query("state")
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"authUrl": h.Auth.AuthCodeURL(state),
	})
}

// Callback completes the OAuth flow: code exchange, whoami lookup, user
// upsert, session token issuance. The browser is mid-redirect here, so every
// failure redirects to the frontend error view instead of returning JSON.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")

	frontendURL := h.Cfg.Server.FrontendURL

	if code == "" {
		return c.Redirect(frontendURL + "/auth/error?message=" + url.QueryEscape("authorization code not provided"))
	}

	token, err := h.Auth.ExchangeCode(c.Context(), code)
	if err != nil {
		return c.Redirect(frontendURL + "/auth/error?message=" + url.QueryEscape("authentication failed"))
	}

	info, err := h.Auth.FetchUserInfo(c.Context(), token.AccessToken)
	if err != nil {
		return c.Redirect(frontendURL + "/auth/error?message=" + url.QueryEscape("authentication failed"))
	}

	user, err := h.Auth.UpsertUser(c.Context(), info, token)
	if err != nil {
		logger.Error("airtable_login_upsert_failed", map[string]interface{}{
			"airtable_id": info.ID,
			"error":       err.Error(),
		})
		return c.Redirect(frontendURL + "/auth/error?message=" + url.QueryEscape("authentication failed"))
	}

	sessionToken, err := utils.GenerateToken(user.ID)
	if err != nil {
		return c.Redirect(frontendURL + "/auth/error?message=" + url.QueryEscape("failed to create session"))
	}

	redirect := frontendURL + "/auth/callback?token=" + url.QueryEscape(sessionToken)
	if state != "" {
		redirect += "&state=" + url.QueryEscape(state)
	}
	return c.Redirect(redirect)
}

// Me returns the sanitized current-user profile; token fields never leave the
// server.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, currentUser)
}

// Logout is a stateless acknowledgment; session tokens are not invalidated
// server-side.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "logout successful",
	})
}
