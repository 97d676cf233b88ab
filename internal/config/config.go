package config

import (
	"os"
	"strconv"
)

type Config struct {
	DB       DBConfig
	JWT      JWTConfig
	Server   ServerConfig
	Airtable AirtableConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type AirtableConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

const defaultScopes = "data.records:read,data.records:write,data.recordComments:read,data.recordComments:write,schema.bases:read,schema.bases:write,webhook:manage"

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "formbridge"),
			Password: getEnv("DB_PASSWORD", "formbridge_secret"),
			Name:     getEnv("DB_NAME", "formbridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 168),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:8080"),
		},
		Airtable: AirtableConfig{
			ClientID:     getEnv("AIRTABLE_CLIENT_ID", ""),
			ClientSecret: getEnv("AIRTABLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("AIRTABLE_REDIRECT_URI", "http://localhost:8080/api/auth/airtable/callback"),
			Scopes:       getEnv("AIRTABLE_SCOPES", defaultScopes),
			AuthURL:      getEnv("AIRTABLE_AUTH_URL", "https://airtable.com/oauth2/v1/authorize"),
			TokenURL:     getEnv("AIRTABLE_TOKEN_URL", "https://airtable.com/oauth2/v1/token"),
			APIBaseURL:   getEnv("AIRTABLE_API_URL", "https://api.airtable.com"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
