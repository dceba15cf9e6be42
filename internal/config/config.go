package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"summoner-story/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	RiotAPIKey   string
	RiotBaseURL  string // empty means the regional riotgames.com hosts
	GeminiAPIKey string
	GeminiModel  string
	GeminiURL    string
	DBPath       string
	ServerPort   string
	LogLevel     string

	SessionSecret string
	SessionIssuer string

	MinGames      int
	MaxMatches    int
	HistoryMonths int

	InsightCacheTTL  time.Duration
	InsightCacheSize int
	JobRetention     time.Duration
	PromptTemplates  string

	Archive ArchiveConfig
}

// ArchiveConfig points at an S3-compatible bucket for raw match payloads. Archiving is off when
// Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

// LoadDotEnv fills unset environment variables from ./.env and reports whether the file was read.
func LoadDotEnv(logger zerolog.Logger) bool {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg(".env file not found, using environment variables or defaults")
		return false
	}
	return true
}

func Load(logger zerolog.Logger) (*Config, error) {
	LoadDotEnv(logger)

	cfg := &Config{
		RiotAPIKey:   getEnv("RIOT_API_KEY", ""),
		RiotBaseURL:  getEnv("RIOT_BASE_URL", ""),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		DBPath:       getEnv("DB_PATH", "summoner-story.db"),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionIssuer: getEnv("SESSION_ISSUER", "summoner-story"),

		PromptTemplates: getEnv("PROMPT_TEMPLATES", ""),

		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", "summoner-story"),
			Region:    getEnv("ARCHIVE_REGION", "us-east-1"),
		},
	}

	var err error
	if cfg.MinGames, err = getEnvInt("MIN_GAMES", constants.DefaultMinGames); err != nil {
		return nil, err
	}
	if cfg.MaxMatches, err = getEnvInt("MAX_MATCHES", constants.DefaultMaxMatches); err != nil {
		return nil, err
	}
	if cfg.HistoryMonths, err = getEnvInt("HISTORY_MONTHS", constants.DefaultHistoryMonths); err != nil {
		return nil, err
	}
	if cfg.InsightCacheSize, err = getEnvInt("INSIGHT_CACHE_SIZE", constants.DefaultInsightCacheSize); err != nil {
		return nil, err
	}
	if cfg.InsightCacheTTL, err = getEnvDuration("INSIGHT_CACHE_TTL", constants.DefaultInsightCacheTTL); err != nil {
		return nil, err
	}
	if cfg.JobRetention, err = getEnvDuration("JOB_RETENTION", constants.DefaultJobRetention); err != nil {
		return nil, err
	}
	if cfg.Archive.UseSSL, err = getEnvBool("ARCHIVE_USE_SSL", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("gemini_model", cfg.GeminiModel).
		Int("min_games", cfg.MinGames).
		Int("max_matches", cfg.MaxMatches).
		Int("history_months", cfg.HistoryMonths).
		Dur("insight_cache_ttl", cfg.InsightCacheTTL).
		Dur("job_retention", cfg.JobRetention).
		Bool("archive_enabled", cfg.Archive.Enabled()).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RiotAPIKey == "" {
		return fmt.Errorf("RIOT_API_KEY is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.MinGames < 1 {
		return fmt.Errorf("MIN_GAMES must be positive, got %d", c.MinGames)
	}
	if c.MaxMatches < 1 {
		return fmt.Errorf("MAX_MATCHES must be positive, got %d", c.MaxMatches)
	}
	if c.HistoryMonths < 1 {
		return fmt.Errorf("HISTORY_MONTHS must be positive, got %d", c.HistoryMonths)
	}
	if c.InsightCacheSize < 1 {
		return fmt.Errorf("INSIGHT_CACHE_SIZE must be positive, got %d", c.InsightCacheSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

var Module = fx.Provide(Load)
