// Package panel wires the parsers, the usage ledger and easyrsa into the
// operations served over HTTP and the admin CLI.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/ovpnpanel/internal/bandwidth"
	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
	"github.com/adamscao/ovpnpanel/internal/report"
	"github.com/sirupsen/logrus"
)

// AuditSink records administrative actions
type AuditSink interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Recorder receives the figures of every collection pass
type Recorder interface {
	ObserveServer(snapshot report.ServerSnapshot)
	ObserveClients(reports []report.ClientReport, expiries map[string]time.Time, now time.Time)
	UsageStoreError(op string)
}

// Clients is the part of the easyrsa manager the panel drives
type Clients interface {
	ClientExists(name string) (bool, error)
	AddClient(ctx context.Context, name string, days int, allowDuplicate bool) error
	RevokeClient(ctx context.Context, name string) error
	DeleteClient(ctx context.Context, name string) error
	ExtendClient(ctx context.Context, name string, days int) error
	SetDuplicateCN(name string, allow bool) error
	HasDuplicateCN(name string) (bool, error)
	Profile(name string) ([]byte, error)
	ServiceState(ctx context.Context) string
	RestartService(ctx context.Context) error
}

// Actor identifies who triggered an operation
type Actor struct {
	Username  string
	IP        string
	UserAgent string
}

// Panel serves client reports and client administration
type Panel struct {
	cfg      config.OpenVPNConfig
	ledger   *bandwidth.Ledger
	clients  Clients
	validate Validator
	audit    AuditSink
	recorder Recorder
	log      logrus.FieldLogger
	now      func() time.Time
}

// Validator resolves client names and certificate lifetimes
type Validator interface {
	ExpiryDays(requested int) (int, error)
}

// Options are the collaborators of a Panel. Audit and Recorder may be nil.
type Options struct {
	OpenVPN   config.OpenVPNConfig
	Ledger    *bandwidth.Ledger
	Clients   Clients
	Validator Validator
	Audit     AuditSink
	Recorder  Recorder
	Logger    logrus.FieldLogger
}

// New creates a new panel
func New(opts Options) *Panel {
	return &Panel{
		cfg:      opts.OpenVPN,
		ledger:   opts.Ledger,
		clients:  opts.Clients,
		validate: opts.Validator,
		audit:    opts.Audit,
		recorder: opts.Recorder,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// View is the outcome of one collection pass
type View struct {
	Reports []report.ClientReport
	Live    map[string]openvpn.ConnectionRecord
	Certs   []openvpn.CertificateRecord
	// UsageErr is set when the usage store could not be read or written.
	// Reports are still complete in that case.
	UsageErr error
}

// Collect reads the PKI index and the status log, folds the live counters
// into the usage ledger and builds one report per client certificate.
// Files are read afresh on every call.
func (p *Panel) Collect(ctx context.Context) (*View, error) {
	records, diags, err := openvpn.ReadIndexFile(p.cfg.IndexFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read PKI index: %w", err)
	}
	p.logDiagnostics("index", diags)
	certs := openvpn.WithoutIdentity(openvpn.Latest(records), p.cfg.ServerIdentity)

	live, diags, err := openvpn.ReadStatusFile(p.cfg.StatusLog)
	if err != nil {
		// An unreadable status log reads as nobody connected
		p.log.WithError(err).Warn("failed to read status log")
		live = map[string]openvpn.ConnectionRecord{}
	}
	p.logDiagnostics("status", diags)

	usage, usageErr := p.ledger.Observe(ctx, live)
	if usageErr != nil {
		p.log.WithError(usageErr).Warn("usage ledger degraded")
		var storeErr *bandwidth.StoreError
		if p.recorder != nil && errors.As(usageErr, &storeErr) {
			p.recorder.UsageStoreError(storeErr.Op)
		}
	}

	reports := report.Build(certs, live, usage)

	if p.recorder != nil {
		expiries := make(map[string]time.Time, len(certs))
		for _, c := range certs {
			expiries[c.Name] = c.Expiry
		}
		p.recorder.ObserveClients(reports, expiries, p.now())
	}

	return &View{Reports: reports, Live: live, Certs: certs, UsageErr: usageErr}, nil
}

// ListClients returns one report per client certificate
func (p *Panel) ListClients(ctx context.Context) ([]report.ClientReport, error) {
	view, err := p.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return view.Reports, nil
}

// Stats returns the server-wide snapshot
func (p *Panel) Stats(ctx context.Context) (report.ServerSnapshot, error) {
	view, err := p.Collect(ctx)
	if err != nil {
		return report.ServerSnapshot{}, err
	}

	info, err := openvpn.ReadServerConfig(p.cfg.ServerConfigFile())
	if err != nil {
		p.log.WithError(err).Warn("failed to read server.conf, using defaults")
	}

	snapshot := report.Summarize(view.Reports, view.Live, info, p.clients.ServiceState(ctx))
	if p.recorder != nil {
		p.recorder.ObserveServer(snapshot)
	}
	return snapshot, nil
}

// ServerStatus is the OpenVPN service summary
type ServerStatus struct {
	ServiceState string `json:"service_state"`
	Running      bool   `json:"running"`
	Port         string `json:"port"`
	Protocol     string `json:"protocol"`
	Subnet       string `json:"subnet"`
}

// ServerStatus reports the service state and the server.conf settings
func (p *Panel) ServerStatus(ctx context.Context) ServerStatus {
	info, err := openvpn.ReadServerConfig(p.cfg.ServerConfigFile())
	if err != nil {
		p.log.WithError(err).Warn("failed to read server.conf, using defaults")
	}

	state := p.clients.ServiceState(ctx)
	return ServerStatus{
		ServiceState: state,
		Running:      state == "active",
		Port:         info.Port,
		Protocol:     info.Protocol,
		Subnet:       info.Subnet,
	}
}

// Usage returns the stored usage rows
func (p *Panel) Usage(ctx context.Context) (map[string]models.CumulativeUsage, error) {
	return p.ledger.Usage(ctx)
}

func (p *Panel) logDiagnostics(source string, diags []openvpn.Diagnostic) {
	for _, d := range diags {
		p.log.WithFields(logrus.Fields{"source": source, "line": d.Line}).Debug(d.Reason)
	}
}

func (p *Panel) record(ctx context.Context, actor Actor, action, client string, opErr error, details map[string]any) {
	if p.audit == nil {
		return
	}

	entry := &models.AuditLog{
		Action:    action,
		Username:  actor.Username,
		Client:    client,
		ClientIP:  actor.IP,
		UserAgent: actor.UserAgent,
		Success:   opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMsg = opErr.Error()
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}

	if err := p.audit.Create(ctx, entry); err != nil {
		p.log.WithError(err).WithField("action", action).Error("failed to write audit log")
	}
}

// RecordLogin writes the audit row of a login attempt
func (p *Panel) RecordLogin(ctx context.Context, actor Actor, loginErr error) {
	action := models.ActionLogin
	if loginErr != nil {
		action = models.ActionAuthFailed
	}
	p.record(ctx, actor, action, "", loginErr, nil)
}
