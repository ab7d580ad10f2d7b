package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT (validation only; token issuance lives in the auth service)
	JWTSecret string

	// Shared secret for the scan-pipeline intake endpoint
	ScanToken string

	// Admin bootstrap
	AdminEmail    string
	AdminPassword string

	// RBAC capability matrix (optional JSON override)
	RBACMatrixPath string

	// Automation policies
	AutomationInterval time.Duration
	EscalateAfter      time.Duration
	MaxPerReviewer     int

	// Rate limiting (shared store; empty falls back to in-memory)
	RedisURL string

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "glowmorph_admin"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ScanToken: getEnv("SCAN_TOKEN", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		RBACMatrixPath: getEnv("RBAC_MATRIX_PATH", ""),

		AutomationInterval: parseDuration(getEnv("AUTOMATION_INTERVAL", "5m"), 5*time.Minute),
		EscalateAfter:      parseDuration(getEnv("ESCALATE_AFTER", "24h"), 24*time.Hour),
		MaxPerReviewer:     parseInt(getEnv("MAX_PER_REVIEWER", "10"), 10),

		RedisURL: getEnv("REDIS_URL", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
