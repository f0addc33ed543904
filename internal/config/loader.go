package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file on top of Default()
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable
// overrides. Variables from a .env file in the working directory are loaded
// first; variables already set in the environment take precedence.
func LoadWithEnv(path string) (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)

	// Validate after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if listenAddr := os.Getenv("OVPNPANEL_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if origins := os.Getenv("OVPNPANEL_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	if dbPath := os.Getenv("OVPNPANEL_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if statusLog := os.Getenv("OVPNPANEL_STATUS_LOG"); statusLog != "" {
		cfg.OpenVPN.StatusLog = statusLog
	}

	if easyrsaDir := os.Getenv("OVPNPANEL_EASYRSA_DIR"); easyrsaDir != "" {
		cfg.OpenVPN.EasyRSADir = easyrsaDir
	}

	if username := os.Getenv("OVPNPANEL_ADMIN_USERNAME"); username != "" {
		cfg.Admin.Username = username
	}

	if hash := os.Getenv("OVPNPANEL_ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Admin.PasswordHash = hash
	}

	if secret := os.Getenv("OVPNPANEL_ADMIN_TOTP_SECRET"); secret != "" {
		cfg.Admin.TOTPSecret = secret
	}

	if secret := os.Getenv("OVPNPANEL_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	if redisAddr := os.Getenv("OVPNPANEL_REDIS_ADDR"); redisAddr != "" {
		cfg.RateLimit.RedisAddr = redisAddr
	}
}
