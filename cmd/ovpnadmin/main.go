package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/adamscao/ovpnpanel/internal/auth"
	"github.com/adamscao/ovpnpanel/internal/bandwidth"
	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/db"
	"github.com/adamscao/ovpnpanel/internal/db/repository"
	"github.com/adamscao/ovpnpanel/internal/easyrsa"
	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/adamscao/ovpnpanel/internal/policy"
	"github.com/adamscao/ovpnpanel/internal/report"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
	database   *db.DB
)

var rootCmd = &cobra.Command{
	Use:           "ovpnadmin",
	Short:         "OpenVPN panel administration tool",
	Long:          "Administrative tool for the OpenVPN panel: credentials, usage records, audit log and client reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for admin.password_hash",
	RunE:  hashPassword,
}

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "Generate a TOTP secret for admin.totp_secret",
	RunE:  generateTOTP,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Manage stored bandwidth usage",
}

var usageListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List cumulative usage per client",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listUsage,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Delete the stored usage of a client",
	Args:  cobra.ExactArgs(1),
	RunE:  resetUsage,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit entries",
	RunE:  listAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than a duration",
	RunE:  pruneAudit,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the client report",
	RunE:  printReport,
}

var (
	password    string
	account     string
	qrPath      string
	auditClient string
	auditAction string
	auditLimit  int
	olderThan   time.Duration
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/ovpnpanel/config.yaml", "Config file path")

	hashPasswordCmd.Flags().StringVarP(&password, "password", "p", "", "Password to hash (required)")
	hashPasswordCmd.MarkFlagRequired("password")

	totpCmd.Flags().StringVar(&account, "account", "admin", "Account name shown in the authenticator app")
	totpCmd.Flags().StringVar(&qrPath, "qr", "", "Write the enrolment QR code as PNG to this path")

	auditListCmd.Flags().StringVar(&auditClient, "client", "", "Only entries for this VPN client")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Only entries with this action")
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Maximum number of entries")

	auditPruneCmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Delete entries older than this")

	// Add commands
	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageResetCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditPruneCmd)
	rootCmd.AddCommand(hashPasswordCmd, totpCmd, usageCmd, auditCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initDB() error {
	// Load configuration
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Connect to database
	database, err = db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	return nil
}

// newPanel builds the same panel the server runs, logging to stderr
func newPanel() *panel.Panel {
	log := cfg.Logging.NewLogger(os.Stderr)
	return panel.New(panel.Options{
		OpenVPN:   cfg.OpenVPN,
		Ledger:    bandwidth.NewLedger(repository.NewUsageRepository(database.DB), log),
		Clients:   easyrsa.NewManager(cfg.OpenVPN, easyrsa.ExecRunner{}, log),
		Validator: policy.NewValidator(cfg.Policy),
		Audit:     repository.NewAuditRepository(database.DB),
		Logger:    log,
	})
}

func localActor() panel.Actor {
	who := os.Getenv("USER")
	if who == "" {
		who = "ovpnadmin"
	}
	return panel.Actor{Username: who, IP: "local", UserAgent: "ovpnadmin"}
}

func hashPassword(cmd *cobra.Command, args []string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func generateTOTP(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateTOTP(account)
	if err != nil {
		return fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "TOTP Secret: %s\n", key.Secret)
	fmt.Fprintf(out, "TOTP URL:    %s\n", key.URL)

	if qrPath != "" {
		if err := os.WriteFile(qrPath, key.QRCode, 0o600); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		fmt.Fprintf(out, "QR code written to %s\n", qrPath)
	}

	fmt.Fprintf(out, "\nSet admin.totp_secret to the secret and scan the URL with a TOTP app\n")
	return nil
}

func listUsage(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	repo := repository.NewUsageRepository(database.DB)
	out := cmd.OutOrStdout()

	var rows map[string]models.CumulativeUsage
	if len(args) == 1 {
		name, err := policy.SanitizeName(args[0])
		if err != nil {
			return err
		}
		u, err := repo.Get(cmd.Context(), name)
		if errors.Is(err, bandwidth.ErrNotFound) {
			fmt.Fprintf(out, "No usage recorded for %s\n", name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load usage: %w", err)
		}
		rows = map[string]models.CumulativeUsage{name: u}
	} else {
		var err error
		rows, err = repo.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load usage: %w", err)
		}
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No usage recorded")
		return nil
	}

	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "%-24s %-12s %-12s %s\n", "Client", "Sent", "Received", "Updated")
	fmt.Fprintln(out, "--------------------------------------------------------------------------------")
	for _, name := range names {
		u := rows[name]
		fmt.Fprintf(out, "%-24s %-12s %-12s %s\n",
			name,
			report.FormatBytes(u.LifetimeSent()),
			report.FormatBytes(u.LifetimeReceived()),
			u.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func resetUsage(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	name, err := policy.SanitizeName(args[0])
	if err != nil {
		return err
	}
	if err := newPanel().ResetUsage(cmd.Context(), localActor(), name); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Usage of %s reset\n", name)
	return nil
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	logs, err := repository.NewAuditRepository(database.DB).List(cmd.Context(), repository.AuditFilter{
		Client: auditClient,
		Action: auditAction,
		Limit:  auditLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(logs) == 0 {
		fmt.Fprintln(out, "No audit entries found")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-16s %-12s %-16s %-16s %s\n", "Time", "Action", "User", "Client", "IP", "Result")
	fmt.Fprintln(out, "--------------------------------------------------------------------------------")
	for _, l := range logs {
		result := "ok"
		if !l.Success {
			result = "failed: " + l.ErrorMsg
		}
		fmt.Fprintf(out, "%-20s %-16s %-12s %-16s %-16s %s\n",
			l.Timestamp.Format("2006-01-02 15:04:05"),
			l.Action,
			l.Username,
			l.Client,
			l.ClientIP,
			result,
		)
	}
	return nil
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	n, err := repository.NewAuditRepository(database.DB).DeleteOld(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to prune audit log: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries\n", n)
	return nil
}

func printReport(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	reports, err := newPanel().ListClients(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	writeReport(cmd.OutOrStdout(), reports)
	return nil
}

func writeReport(out io.Writer, reports []report.ClientReport) {
	if len(reports) == 0 {
		fmt.Fprintln(out, "No clients found")
		return
	}

	fmt.Fprintf(out, "%-24s %-8s %-11s %-10s %-16s %-12s %s\n", "Client", "Status", "Expiry", "Connected", "IP", "Total Sent", "Total Received")
	fmt.Fprintln(out, "----------------------------------------------------------------------------------------------------")
	for _, r := range reports {
		connected := "No"
		if r.Connected {
			connected = "Yes"
		}
		fmt.Fprintf(out, "%-24s %-8s %-11s %-10s %-16s %-12s %s\n",
			r.Name,
			r.Status,
			r.Expiry,
			connected,
			r.IP,
			r.TotalSentFormatted,
			r.TotalReceivedFormatted,
		)
	}
}
