package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OpenVPN   OpenVPNConfig   `yaml:"openvpn"`
	Policy    PolicyConfig    `yaml:"policy"`
	Admin     AdminConfig     `yaml:"admin"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OpenVPNConfig locates the files and tools of the managed OpenVPN server
type OpenVPNConfig struct {
	EasyRSADir      string `yaml:"easyrsa_dir"`
	OpenVPNDir      string `yaml:"openvpn_dir"`
	ClientConfigDir string `yaml:"client_config_dir"`
	StatusLog       string `yaml:"status_log"`
	ServerConfig    string `yaml:"server_config"`
	ServiceName     string `yaml:"service_name"`
	ServerIdentity  string `yaml:"server_identity"`
	CRLDays         int    `yaml:"crl_days"`
}

// IndexFile returns the path of the easyrsa index.txt
func (o OpenVPNConfig) IndexFile() string {
	return filepath.Join(o.EasyRSADir, "pki", "index.txt")
}

// ServerConfigFile returns the path of server.conf
func (o OpenVPNConfig) ServerConfigFile() string {
	if o.ServerConfig != "" {
		return o.ServerConfig
	}
	return filepath.Join(o.OpenVPNDir, "server.conf")
}

// PolicyConfig contains client certificate policy
type PolicyConfig struct {
	DefaultExpiryDays int `yaml:"default_expiry_days"`
	MaxExpiryDays     int `yaml:"max_expiry_days"`
}

// AdminConfig contains the panel administrator credentials
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	TOTPSecret   string `yaml:"totp_secret"`
}

// SessionConfig contains session token configuration
type SessionConfig struct {
	Secret string `yaml:"secret"`
	TTL    string `yaml:"ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig contains login rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Attempts  int    `yaml:"attempts"`
	Window    string `yaml:"window"`
}

// Default returns a configuration matching a stock openvpn-install layout
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "0.0.0.0:5000",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/ovpnpanel/usage.db",
		},
		OpenVPN: OpenVPNConfig{
			EasyRSADir:      "/etc/openvpn/server/easy-rsa",
			OpenVPNDir:      "/etc/openvpn/server",
			ClientConfigDir: "/root",
			StatusLog:       "/var/log/openvpn/status.log",
			ServiceName:     "openvpn-server@server",
			ServerIdentity:  "server",
			CRLDays:         3650,
		},
		Policy: PolicyConfig{
			DefaultExpiryDays: 3650,
			MaxExpiryDays:     7300,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Session: SessionConfig{
			TTL: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			Attempts: 5,
			Window:   "15m",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// OpenVPN validation
	if c.OpenVPN.EasyRSADir == "" {
		return fmt.Errorf("openvpn.easyrsa_dir is required")
	}
	if c.OpenVPN.OpenVPNDir == "" {
		return fmt.Errorf("openvpn.openvpn_dir is required")
	}
	if c.OpenVPN.ClientConfigDir == "" {
		return fmt.Errorf("openvpn.client_config_dir is required")
	}
	if c.OpenVPN.StatusLog == "" {
		return fmt.Errorf("openvpn.status_log is required")
	}
	if c.OpenVPN.ServiceName == "" {
		return fmt.Errorf("openvpn.service_name is required")
	}
	if c.OpenVPN.CRLDays <= 0 {
		return fmt.Errorf("openvpn.crl_days must be positive")
	}

	// Policy validation
	if c.Policy.MaxExpiryDays <= 0 {
		return fmt.Errorf("policy.max_expiry_days must be positive")
	}
	if c.Policy.DefaultExpiryDays <= 0 || c.Policy.DefaultExpiryDays > c.Policy.MaxExpiryDays {
		return fmt.Errorf("policy.default_expiry_days must be between 1 and %d", c.Policy.MaxExpiryDays)
	}

	// Admin validation
	if c.Admin.Username == "" {
		return fmt.Errorf("admin.username is required")
	}
	if c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.password_hash is required (generate one with `ovpnadmin hash-password`)")
	}

	// Session validation
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return fmt.Errorf("session.ttl is invalid: %w", err)
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	// Rate limit validation. attempts and window also drive the audit-log
	// throttle used without Redis.
	if c.RateLimit.Enabled && c.RateLimit.RedisAddr == "" {
		return fmt.Errorf("rate_limit.redis_addr is required when rate limiting is enabled")
	}
	if c.RateLimit.Attempts <= 0 {
		return fmt.Errorf("rate_limit.attempts must be positive")
	}
	if window, err := time.ParseDuration(c.RateLimit.Window); err != nil || window <= 0 {
		return fmt.Errorf("rate_limit.window must be a positive duration")
	}

	return nil
}

// Warnings lists settings that are valid but weaken the panel
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Admin.TOTPSecret == "" {
		warnings = append(warnings, "admin.totp_secret is empty, logins use the password only")
	}
	if !c.RateLimit.Enabled {
		warnings = append(warnings, "rate_limit is disabled, failed logins are throttled from the audit log only")
	}
	return warnings
}

// GetSessionTTL returns the session lifetime as time.Duration
func (c *Config) GetSessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Session.TTL)
	return d
}

// GetRateLimitWindow returns the rate limit window as time.Duration
func (c *Config) GetRateLimitWindow() time.Duration {
	d, _ := time.ParseDuration(c.RateLimit.Window)
	return d
}
