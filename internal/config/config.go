package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the server and supporting services.
type Config struct {
	ListenAddr           string
	AdminUsername        string
	AdminPassword        string
	AdminEmail           string
	GeminiAPIKey         string
	GeminiBaseURL        string
	GeminiModel          string
	RequestTimeout       time.Duration
	DBDriver             string
	DBDSN                string
	StartingBalance      int
	AdminStartingBalance int
	CORSAllowedOrigins   []string
	MaxUploadBytes       int64
	LogLevel             slog.Level
}

// Load reads configuration from environment variables, applying sane defaults.
// An env file (CONFIG_ENV_PATH, configs/.env or .env) is loaded when present,
// but the process can also run from a plain environment.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		AdminEmail:           getEnv("ADMIN_EMAIL", "timzhangherenow@gmail.com"),
		GeminiBaseURL:        normalizeBaseURL(getEnv("GEMINI_BASE_URL", defaultGeminiBaseURL), defaultGeminiBaseURL),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview"),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		DBDriver:             strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:                getEnv("DB_DSN", "file:contextualizer.db"),
		StartingBalance:      getInt("STARTING_BALANCE", 5),
		AdminStartingBalance: getInt("ADMIN_STARTING_BALANCE", 999),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		MaxUploadBytes:       int64(getInt("MAX_UPLOAD_MB", 10)) << 20,
		LogLevel:             parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	var missing []string
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	switch cfg.DBDriver {
	case "sqlite", "mysql":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or mysql)", cfg.DBDriver)
	}
	if cfg.DBDriver == "mysql" && os.Getenv("DB_DSN") == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL keeps the adapter pointed at a usable API host even when the
// env var is set to a bare hostname or a trailing-slash URL.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
