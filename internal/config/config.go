package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "Fidelio"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 30 * 24 * time.Hour
	defaultOTPTTL         = 10 * time.Minute
	defaultTokenTTL       = 15 * time.Minute
	defaultTokenMaxTTL    = 7 * 24 * time.Hour
	defaultSweepInterval  = 5 * time.Minute
	defaultKafkaTopic     = "points.activity"
	devJWTSecret          = "dev-only-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	DBMaxConns     int
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	AllowedOrigins string
	AutoMigrate    bool

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AllowNegativeBalance bool
	TokenDefaultTTL      time.Duration
	TokenMaxTTL          time.Duration
	SweepInterval        time.Duration

	OTPTTL                 time.Duration
	OTPMaxAttempts         int
	OTPRequestsPerHour     int
	LoginAttemptsPerMinute int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	KafkaBrokers []string
	KafkaTopic   string

	BootstrapAdminPhone string
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RefreshSecret:       os.Getenv("REFRESH_SECRET"),
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:   os.Getenv("GOOGLE_REDIRECT_URL"),
		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:          os.Getenv("TWILIO_FROM"),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		BootstrapAdminPhone: os.Getenv("BOOTSTRAP_ADMIN_PHONE"),
	}

	var errs []error
	durations := []struct {
		dst      *time.Duration
		key      string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTTL},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", defaultRefreshTTL},
		{&cfg.OTPTTL, "OTP_TTL", defaultOTPTTL},
		{&cfg.TokenDefaultTTL, "TOKEN_DEFAULT_TTL", defaultTokenTTL},
		{&cfg.TokenMaxTTL, "TOKEN_MAX_TTL", defaultTokenMaxTTL},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", defaultSweepInterval},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.fallback)
		errs = append(errs, err)
		*d.dst = v
	}

	ints := []struct {
		dst      *int
		key      string
		fallback int
	}{
		{&cfg.OTPMaxAttempts, "OTP_MAX_ATTEMPTS", 3},
		{&cfg.OTPRequestsPerHour, "OTP_REQUESTS_PER_HOUR", 5},
		{&cfg.LoginAttemptsPerMinute, "LOGIN_ATTEMPTS_PER_MINUTE", 5},
		{&cfg.DBMaxConns, "DB_MAX_CONNS", 10},
	}
	for _, i := range ints {
		v, err := getInt(i.key, i.fallback)
		errs = append(errs, err)
		*i.dst = v
	}

	var err error
	cfg.AllowNegativeBalance, err = getBool("ALLOW_NEGATIVE_BALANCE", false)
	errs = append(errs, err)
	cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", cfg.IsDevelopment())
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.TokenDefaultTTL > cfg.TokenMaxTTL {
		return Config{}, fmt.Errorf("TOKEN_DEFAULT_TTL (%s) exceeds TOKEN_MAX_TTL (%s)", cfg.TokenDefaultTTL, cfg.TokenMaxTTL)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration reads KEY_SECONDS as whole seconds, then KEY as a Go
// duration string.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			return fallback, fmt.Errorf("invalid %s_SECONDS: %q", key, v)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
