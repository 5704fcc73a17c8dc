// Package config provides environment-based configuration management
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DBConfig holds database connection parameters for the audit store
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters for the rule cache
type RedisConfig struct {
	Addr string // Format: host:port
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port       int
	APIVersion string // version prefix for routes and log path stripping, e.g. "v1"
	PrettyJSON bool   // indent response bodies (3 spaces + trailing newline)
	MeshSecret string // shared secret gating the admin log stream
}

// ManagerConfig holds the paths of the managed HIDS installation
type ManagerConfig struct {
	InstallPath string // base installation directory (OSSEC_PATH)
}

// AuditConfig controls the request audit trail and the rule cache
type AuditConfig struct {
	RetentionDays int
	CacheTTL      time.Duration
}

// Config aggregates all configuration sections
type Config struct {
	DB      DBConfig
	Redis   RedisConfig
	App     AppConfig
	Manager ManagerConfig
	Audit   AuditConfig
}

// LoadConfig reads configuration from environment variables.
// Returns an error if critical variables are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "rulekeeper_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "rulekeeper")

	if cfg.DB.Password == "" {
		return nil, fmt.Errorf("DB_PASS environment variable is required")
	}

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "rulekeeper_redis:6379")

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.APIVersion = getEnv("API_VERSION", "v1")
	cfg.App.PrettyJSON = getEnvAsBool("PRETTY_JSON", false)
	cfg.App.MeshSecret = getEnv("MESH_SECRET", "")

	// Manager installation paths
	cfg.Manager.InstallPath = getEnv("OSSEC_PATH", "/var/ossec")

	// Audit trail and rule cache
	cfg.Audit.RetentionDays = getEnvAsInt("AUDIT_RETENTION_DAYS", 7)
	cfg.Audit.CacheTTL = time.Duration(getEnvAsInt("CACHE_TTL_SECONDS", 30)) * time.Second

	return cfg, nil
}

// GetDSN returns the MySQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// RulesPath returns the directory holding the XML rule files
func (c *ManagerConfig) RulesPath() string {
	return filepath.Join(c.InstallPath, "rules")
}

// ConfPath returns the path of the manager configuration file
func (c *ManagerConfig) ConfPath() string {
	return filepath.Join(c.InstallPath, "etc", "ossec.conf")
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool reads environment variable as boolean with fallback default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
