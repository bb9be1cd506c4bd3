package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/security"
)

// Config is the full environment-driven configuration surface.
type Config struct {
	Profile  string
	HTTPAddr string

	DatabaseURL string
	RedisAddr   string

	JWTSecret string
	JWTIssuer string

	// Credential TTLs in the <N><unit> grammar (s, m, h, d).
	AccessTokenTTL       string
	PasswordResetTTL     string
	EmailVerificationTTL string

	// Verification applies this bound to its store lookup so an outage is
	// reported as unavailability, not invalidity.
	VerifyStoreTimeout time.Duration

	SweepAccessInterval   time.Duration
	SweepSpecialInterval  time.Duration
	SweepRevokedInterval  time.Duration
	SweepInactiveInterval time.Duration
	SweepOveruseInterval  time.Duration
	SweepFullInterval     time.Duration
	SweepJobTimeout       time.Duration

	RevokedRetention         time.Duration
	OwnerInactivityThreshold time.Duration
	OveruseAccessMax         int64
	OveruseRefreshMax        int64

	APIRateLimitRPM    int
	AuthRateLimitRPM   int
	ForgotRateLimitRPM int
	CORSOrigins        []string

	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults and
// validating the result.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Profile:  envString("APP_PROFILE", "dev"),
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		DatabaseURL: envString("DATABASE_URL", "file:surveyforge.db"),
		RedisAddr:   envString("REDIS_ADDR", ""),

		JWTSecret: envString("JWT_SECRET", ""),
		JWTIssuer: envString("JWT_ISSUER", "surveyforge"),

		AccessTokenTTL:       envString("ACCESS_TOKEN_TTL", "1h"),
		PasswordResetTTL:     envString("PASSWORD_RESET_TTL", "15m"),
		EmailVerificationTTL: envString("EMAIL_VERIFICATION_TTL", "1h"),

		OTELExporterOTLPEndpoint: envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELServiceName:          envString("OTEL_SERVICE_NAME", "surveyforge-backend"),
		OTELEnvironment:          envString("OTEL_ENVIRONMENT", "dev"),
	}

	var err error
	parse := func(name, fallback string, dst *time.Duration) {
		if err != nil {
			return
		}
		var d time.Duration
		if d, err = security.ParseTTL(envString(name, fallback)); err != nil {
			err = fmt.Errorf("parse %s: %w", name, err)
			return
		}
		*dst = d
	}
	parse("VERIFY_STORE_TIMEOUT", "3s", &cfg.VerifyStoreTimeout)
	parse("SWEEP_ACCESS_INTERVAL", "1h", &cfg.SweepAccessInterval)
	parse("SWEEP_SPECIAL_INTERVAL", "24h", &cfg.SweepSpecialInterval)
	parse("SWEEP_REVOKED_INTERVAL", "12h", &cfg.SweepRevokedInterval)
	parse("SWEEP_INACTIVE_INTERVAL", "6h", &cfg.SweepInactiveInterval)
	parse("SWEEP_OVERUSE_INTERVAL", "24h", &cfg.SweepOveruseInterval)
	parse("SWEEP_FULL_INTERVAL", "7d", &cfg.SweepFullInterval)
	parse("SWEEP_JOB_TIMEOUT", "2m", &cfg.SweepJobTimeout)
	parse("REVOKED_RETENTION", "30d", &cfg.RevokedRetention)
	parse("OWNER_INACTIVITY_THRESHOLD", "30d", &cfg.OwnerInactivityThreshold)
	parse("OTEL_METRICS_EXPORT_INTERVAL", "30s", &cfg.OTELMetricsExportInterval)
	parse("SHUTDOWN_TIMEOUT", "15s", &cfg.ShutdownTimeout)
	if err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}

	cfg.OveruseAccessMax = envInt64("OVERUSE_ACCESS_MAX", 1000)
	cfg.OveruseRefreshMax = envInt64("OVERUSE_REFRESH_MAX", 100)
	cfg.APIRateLimitRPM = int(envInt64("API_RATE_LIMIT_RPM", 300))
	cfg.AuthRateLimitRPM = int(envInt64("AUTH_RATE_LIMIT_RPM", 30))
	cfg.ForgotRateLimitRPM = int(envInt64("FORGOT_RATE_LIMIT_RPM", 5))
	cfg.CORSOrigins = envStringList("CORS_ORIGINS", []string{"http://localhost:3000"})

	cfg.OTELMetricsEnabled = envBool("OTEL_METRICS_ENABLED", false)
	cfg.OTELTracingEnabled = envBool("OTEL_TRACING_ENABLED", false)
	cfg.OTELLogsEnabled = envBool("OTEL_LOGS_ENABLED", false)
	cfg.OTELExporterOTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.OTELTraceSampleRatio = envFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0)

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IsProd() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("validate config: JWT_SECRET must be at least 32 characters in prod")
		}
	} else if c.JWTSecret == "" {
		// Dev convenience only; never reachable under the prod profile.
		c.JWTSecret = "surveyforge-dev-secret-do-not-use-in-prod"
		slog.Warn("JWT_SECRET not set, using dev default")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required")
	}
	if c.SweepJobTimeout <= 0 {
		return fmt.Errorf("validate config: SWEEP_JOB_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProd() bool {
	return strings.EqualFold(strings.TrimSpace(c.Profile), "prod")
}

// OveruseThresholds maps credential kinds to their maximum usage counts. The
// refresh entry keeps the mechanism generic even though no refresh kind is
// issued today.
func (c *Config) OveruseThresholds() map[domain.CredentialKind]int64 {
	return map[domain.CredentialKind]int64{
		domain.KindAccess:                c.OveruseAccessMax,
		domain.CredentialKind("refresh"): c.OveruseRefreshMax,
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envStringList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("invalid boolean env var, using default", "key", key, "value", v)
		return fallback
	}
	return b
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v)
		return fallback
	}
	return f
}
