// Package config loads gateway configuration from environment variables:
// a flat struct, os.Getenv with defaults, no third-party config library —
// see DESIGN.md for why the standard library is enough here.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced setting the gateway needs to run.
type Config struct {
	Port        string
	DatabaseURL string

	SecretKey            string
	JWTAlgorithm         string
	JWTExpirationMinutes int

	// GatewaySecretKeyB64 is the base64-encoded 32-byte AES-256 key backing
	// pkg/secret's at-rest Secret encryption. Named after the env var the
	// original spec calls gateway_fernet_key; this implementation uses
	// AES-256-GCM rather than Fernet (see DESIGN.md's crypto-primitive note).
	GatewaySecretKeyB64 string

	GatewayDefaultDailyBudget      int
	GatewayApprovalExpiryHours     int
	GatewayConnectorTimeoutSeconds int
	GatewayAllowedWebhookDomains   []string

	// RedisURL backs the idempotency-key cache (pkg/api's IdempotencyStorer)
	// when set; an unset value falls back to the in-memory store, the same
	// degrade-gracefully pattern GATEWAY_FERNET_KEY's absence triggers for
	// pkg/secret below.
	RedisURL string

	// ToolRegistryPath points at a pkg/toolregistry static config file. An
	// unset value runs with no connector bindings configured.
	ToolRegistryPath string

	// OTELEnabled turns on pkg/observability's OTLP exporters. Defaults to
	// off so a local/demo boot never tries to dial a collector that isn't
	// there; OTELExporterEndpoint mirrors the OTel SDK's own env var name.
	OTELEnabled         bool
	OTELExporterEndpoint string

	CORSOrigins      []string
	CORSAllowMethods []string
	CORSAllowHeaders []string

	LogLevel  string
	LogFormat string
}

// Load reads Config from the process environment, applying the same
// defaults a local/dev run would need.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://gateway@localhost:5432/gateway?sslmode=disable"),

		SecretKey:            os.Getenv("SECRET_KEY"),
		JWTAlgorithm:         getEnv("JWT_ALGORITHM", "EdDSA"),
		JWTExpirationMinutes: getEnvInt("JWT_EXPIRATION_MINUTES", 60),

		GatewaySecretKeyB64: os.Getenv("GATEWAY_FERNET_KEY"),

		GatewayDefaultDailyBudget:      getEnvInt("GATEWAY_DEFAULT_DAILY_BUDGET", 0),
		GatewayApprovalExpiryHours:     getEnvInt("GATEWAY_APPROVAL_EXPIRY_HOURS", 24),
		GatewayConnectorTimeoutSeconds: getEnvInt("GATEWAY_CONNECTOR_TIMEOUT_SECONDS", 30),
		GatewayAllowedWebhookDomains:   getEnvList("GATEWAY_ALLOWED_WEBHOOK_DOMAINS", nil),

		RedisURL:         os.Getenv("REDIS_URL"),
		ToolRegistryPath: os.Getenv("TOOL_REGISTRY_PATH"),

		OTELEnabled:          getEnvBool("OTEL_ENABLED", false),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"*"}),
		CORSAllowMethods: getEnvList("CORS_METHODS", []string{"GET", "POST", "PATCH", "DELETE"}),
		CORSAllowHeaders: getEnvList("CORS_HEADERS", []string{"Authorization", "Content-Type", "X-Override-Token"}),

		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
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
