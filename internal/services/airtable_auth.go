package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/models"
	"github.com/formbridge/backend/pkg/logger"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// AirtableAuthService mediates the Airtable OAuth token lifecycle: the
// authorization redirect, the code exchange, the whoami lookup, the
// upsert-by-airtable-id login write and the refresh-on-expiry path.
type AirtableAuthService struct {
	DB    *gorm.DB
	Cfg   *config.Config
	oauth *oauth2.Config

	httpClient *http.Client
}

func NewAirtableAuthService(db *gorm.DB, cfg *config.Config) *AirtableAuthService {
	return &AirtableAuthService{
		DB:  db,
		Cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.Airtable.ClientID,
			ClientSecret: cfg.Airtable.ClientSecret,
			RedirectURL:  cfg.Airtable.RedirectURL,
			Scopes:       strings.Split(cfg.Airtable.Scopes, ","),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Airtable.AuthURL,
				TokenURL: cfg.Airtable.TokenURL,
			},
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AirtableUserInfo is the identity reported by the whoami endpoint.
type AirtableUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

// AuthCodeURL builds the authorization redirect. The state value is echoed
// back verbatim by Airtable for CSRF correlation. No network call.
func (s *AirtableAuthService) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for an access token. Not retried.
func (s *AirtableAuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		logger.Warn("airtable_exchange_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: code exchange: %v", ErrExternalAuth, err)
	}
	return token, nil
}

// RefreshToken mints a new access token from a refresh token. Airtable
// rotates refresh tokens, so the returned token usually carries a new one.
// Stored state is not mutated here; callers persist the result.
func (s *AirtableAuthService) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		logger.Warn("airtable_refresh_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: token refresh: %v", ErrExternalAuth, err)
	}
	return token, nil
}

// FetchUserInfo resolves the Airtable account behind an access token.
func (s *AirtableAuthService) FetchUserInfo(ctx context.Context, accessToken string) (*AirtableUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Cfg.Airtable.APIBaseURL+"/v0/meta/whoami", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalAuth, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: whoami: %v", ErrExternalAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		logger.Warn("airtable_whoami_failed", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return nil, fmt.Errorf("%w: whoami returned status %d", ErrExternalAuth, resp.StatusCode)
	}

	var info AirtableUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding whoami response: %v", ErrExternalAuth, err)
	}
	if info.Name == "" {
		info.Name = info.Email
	}
	return &info, nil
}

// UpsertUser finds-or-creates the user for an Airtable account and overwrites
// its token and profile fields. This is the single write path establishing a
// user's credential state; concurrent logins are last-write-wins.
func (s *AirtableAuthService) UpsertUser(ctx context.Context, info *AirtableUserInfo, token *oauth2.Token) (*models.User, error) {
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}

	var refreshToken *string
	if token.RefreshToken != "" {
		rt := token.RefreshToken
		refreshToken = &rt
	}

	var profileImage *string
	if info.ProfilePicURL != "" {
		pic := info.ProfilePicURL
		profileImage = &pic
	}

	email := strings.ToLower(strings.TrimSpace(info.Email))

	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "airtable_id = ?", info.ID).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		user = models.User{
			AirtableID:     info.ID,
			Email:          email,
			Name:           info.Name,
			AccessToken:    token.AccessToken,
			RefreshToken:   refreshToken,
			TokenExpiresAt: expiresAt,
			ProfileImage:   profileImage,
		}
		if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		updates := map[string]interface{}{
			"email":            email,
			"name":             info.Name,
			"access_token":     token.AccessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"profile_image":    profileImage,
		}
		if err := s.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	logger.InfoWithUser(user.ID.String(), "airtable_login", map[string]interface{}{
		"airtable_id": user.AirtableID,
		"email":       user.Email,
	})

	return &user, nil
}

// EnsureFreshToken refreshes the user's Airtable access token when it has
// expired, persisting the result. A nil TokenExpiresAt is treated as
// non-expiring. No locking: two concurrent requests past expiry may both
// refresh, and since Airtable rotates refresh tokens the loser can fail.
func (s *AirtableAuthService) EnsureFreshToken(ctx context.Context, user *models.User) error {
	if user.TokenExpiresAt == nil || user.TokenExpiresAt.After(time.Now()) {
		return nil
	}

	if user.RefreshToken == nil || *user.RefreshToken == "" {
		return fmt.Errorf("%w: token expired and no refresh token on file", ErrExternalAuth)
	}

	token, err := s.RefreshToken(ctx, *user.RefreshToken)
	if err != nil {
		return err
	}

	user.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		rt := token.RefreshToken
		user.RefreshToken = &rt
	}
	if token.Expiry.IsZero() {
		user.TokenExpiresAt = nil
	} else {
		expiry := token.Expiry
		user.TokenExpiresAt = &expiry
	}

	updates := map[string]interface{}{
		"access_token":     user.AccessToken,
		"refresh_token":    user.RefreshToken,
		"token_expires_at": user.TokenExpiresAt,
	}
	if err := s.DB.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return err
	}

	logger.InfoWithUser(user.ID.String(), "airtable_token_refreshed", map[string]interface{}{
		"airtable_id": user.AirtableID,
	})

	return nil
}
