package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamscao/ovpnpanel/internal/api"
	"github.com/adamscao/ovpnpanel/internal/auth"
	"github.com/adamscao/ovpnpanel/internal/bandwidth"
	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/db"
	"github.com/adamscao/ovpnpanel/internal/db/repository"
	"github.com/adamscao/ovpnpanel/internal/easyrsa"
	"github.com/adamscao/ovpnpanel/internal/metrics"
	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/adamscao/ovpnpanel/internal/policy"
	"github.com/adamscao/ovpnpanel/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/ovpnpanel/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("OpenVPN Panel\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := cfg.Logging.NewLogger(os.Stderr)
	log.WithFields(logrus.Fields{"version": Version, "commit": Commit}).Info("starting OpenVPN panel")
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("panel stopped")
	}
	log.Info("panel stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	log.WithField("path", cfg.Database.Path).Info("opening usage database")
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Initialize repositories
	usageRepo := repository.NewUsageRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	// Login throttling: Redis when configured, the audit log otherwise
	var limiter ratelimit.Throttle
	if cfg.RateLimit.Enabled {
		client, err := ratelimit.Connect(ctx, cfg.RateLimit.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		limiter = ratelimit.New(client, cfg.RateLimit.Attempts, cfg.GetRateLimitWindow())
		log.WithField("redis", cfg.RateLimit.RedisAddr).Info("login rate limiting enabled")
	} else {
		limiter = ratelimit.NewAuditLimiter(auditRepo, cfg.RateLimit.Attempts, cfg.GetRateLimitWindow())
	}

	m := metrics.New()
	p := panel.New(panel.Options{
		OpenVPN:   cfg.OpenVPN,
		Ledger:    bandwidth.NewLedger(usageRepo, log),
		Clients:   easyrsa.NewManager(cfg.OpenVPN, easyrsa.ExecRunner{}, log),
		Validator: policy.NewValidator(cfg.Policy),
		Audit:     auditRepo,
		Recorder:  m,
		Logger:    log,
	})

	// Create HTTP server
	server := api.NewServer(cfg, api.Deps{
		Panel:    p,
		Sessions: auth.NewSessionManager(cfg.Session.Secret, cfg.GetSessionTTL()),
		Limiter:  limiter,
		Metrics:  m,
		Logger:   log,
	})

	log.WithField("addr", cfg.Server.ListenAddr).Info("starting HTTP server")
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
