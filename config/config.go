package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	AWS        AWSConfig        `yaml:"aws"`
	Game       GameConfig       `yaml:"game"`
	Automation AutomationConfig `yaml:"automation"`
	Music      MusicConfig      `yaml:"music"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `yaml:"port"`
	ReadTimeout        int    `yaml:"read_timeout_sec"`
	WriteTimeout       int    `yaml:"write_timeout_sec"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"` // comma-separated, or "*"
	PublicBaseURL      string `yaml:"public_base_url"`      // buzzer page base, encoded in join QR codes
	JoinRatePerMinute  int    `yaml:"join_rate_per_minute"`
	BuzzRatePerSecond  int    `yaml:"buzz_rate_per_second"`
	EmbeddedWorker     bool   `yaml:"embedded_worker"` // run the job processor inside the server
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"` // if set, used as-is
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// AWSConfig holds AWS credentials and the player photo bucket.
type AWSConfig struct {
	Region               string `yaml:"region"`
	AccessKeyID          string `yaml:"access_key_id"`
	SecretAccessKey      string `yaml:"secret_access_key"`
	PhotosBucket         string `yaml:"photos_bucket"`
	PresignExpireMinutes int    `yaml:"presign_expire_minutes"`
}

// GameConfig tunes the buzz engine.
type GameConfig struct {
	TickMillis         int `yaml:"tick_millis"`
	CooldownThreshold  int `yaml:"cooldown_threshold"` // negative disables cooldowns
	CooldownMillis     int `yaml:"cooldown_millis"`
	BuzzLockTimeoutSec int `yaml:"buzz_lock_timeout_sec"` // 0 disables
	SessionMaxAgeHours int `yaml:"session_max_age_hours"`
}

// AutomationConfig points at the workflow automation backend behind /automation.
type AutomationConfig struct {
	BaseURL          string   `yaml:"base_url"`
	AuthHeaderName   string   `yaml:"auth_header_name"`
	AuthHeaderValue  string   `yaml:"auth_header_value"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`
	TimeoutSec       int      `yaml:"timeout_sec"`
}

// MusicConfig holds the music-streaming OAuth client.
type MusicConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set, it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// TickInterval is the clock resolution of running sessions.
func (g GameConfig) TickInterval() time.Duration {
	return time.Duration(g.TickMillis) * time.Millisecond
}

// CooldownDuration is how long a player stays frozen.
func (g GameConfig) CooldownDuration() time.Duration {
	return time.Duration(g.CooldownMillis) * time.Millisecond
}

// BuzzLockTimeout is how long an unjudged buzz may hold the lock.
func (g GameConfig) BuzzLockTimeout() time.Duration {
	return time.Duration(g.BuzzLockTimeoutSec) * time.Second
}

// SessionMaxAge is the age after which sessions are pruned.
func (g GameConfig) SessionMaxAge() time.Duration {
	return time.Duration(g.SessionMaxAgeHours) * time.Hour
}

// Enabled reports whether the automation proxy has a backend.
func (a AutomationConfig) Enabled() bool { return a.BaseURL != "" }

// Enabled reports whether the music OAuth exchange is configured.
func (m MusicConfig) Enabled() bool { return m.ClientID != "" && m.TokenURL != "" }

// Load reads configuration from environment, with optional .env file, then
// applies the YAML file named by CONFIG_FILE on top.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
			JoinRatePerMinute:  getEnvInt("JOIN_RATE_PER_MINUTE", 30),
			BuzzRatePerSecond:  getEnvInt("BUZZ_RATE_PER_SECOND", 10),
			EmbeddedWorker:     getEnvBool("EMBEDDED_WORKER", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "blindtest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			PhotosBucket:         getEnv("AWS_S3_PHOTOS_BUCKET", "blindtest-player-photos"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Game: GameConfig{
			TickMillis:         getEnvInt("GAME_TICK_MILLIS", 100),
			CooldownThreshold:  getEnvInt("GAME_COOLDOWN_THRESHOLD", 2),
			CooldownMillis:     getEnvInt("GAME_COOLDOWN_MILLIS", 5000),
			BuzzLockTimeoutSec: getEnvInt("GAME_BUZZ_LOCK_TIMEOUT_SEC", 30),
			SessionMaxAgeHours: getEnvInt("GAME_SESSION_MAX_AGE_HOURS", 24),
		},
		Automation: AutomationConfig{
			BaseURL:          strings.TrimRight(getEnv("AUTOMATION_BASE_URL", ""), "/"),
			AuthHeaderName:   getEnv("AUTOMATION_AUTH_HEADER", "X-Blindtest-Auth"),
			AuthHeaderValue:  getEnv("AUTOMATION_AUTH_VALUE", ""),
			AllowedEndpoints: splitTrim(getEnv("AUTOMATION_ALLOWED_ENDPOINTS", "create-playlist,generate-playlist,game-ended"), ","),
			TimeoutSec:       getEnvInt("AUTOMATION_TIMEOUT_SEC", 20),
		},
		Music: MusicConfig{
			ClientID:     getEnv("MUSIC_CLIENT_ID", ""),
			ClientSecret: getEnv("MUSIC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("MUSIC_REDIRECT_URL", ""),
			AuthURL:      getEnv("MUSIC_AUTH_URL", "https://accounts.spotify.com/authorize"),
			TokenURL:     getEnv("MUSIC_TOKEN_URL", "https://accounts.spotify.com/api/token"),
			Scopes:       splitTrim(getEnv("MUSIC_SCOPES", "streaming,user-read-email,user-modify-playback-state"), ","),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays the YAML document at path. Keys absent from the file keep
// their environment value.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Automation.BaseURL = strings.TrimRight(c.Automation.BaseURL, "/")
	return nil
}

func (c *Config) validate() error {
	if c.Game.TickMillis <= 0 {
		return fmt.Errorf("game tick must be positive, got %dms", c.Game.TickMillis)
	}
	if c.Game.BuzzLockTimeoutSec < 0 {
		return fmt.Errorf("buzz lock timeout must not be negative")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
