package panel

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adamscao/ovpnpanel/internal/bandwidth"
	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/easyrsa"
	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/policy"
	"github.com/adamscao/ovpnpanel/internal/report"
	"github.com/sirupsen/logrus"
)

const testIndex = "V\t350101000000Z\t\t01\tunknown\t/CN=server\n" +
	"V\t260101000000Z\t\t02\tunknown\t/CN=alice\n" +
	"R\t240101000000Z\t231201000000Z\t03\tunknown\t/CN=bob\n"

const testStatus = "HEADER,CLIENT_LIST,Common Name,Real Address,Virtual Address,Virtual IPv6 Address,Bytes Received,Bytes Sent,Connected Since\n" +
	"CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,1000,2000,2025-03-01 09:00:00\n" +
	"CLIENT_LIST,UNDEF,192.0.2.44:1194,,,0,0,2025-03-01 09:59:00\n"

// fakeClients stands in for the easyrsa manager
type fakeClients struct {
	mu       sync.Mutex
	existing map[string]bool
	profiles map[string][]byte
	dup      map[string]bool
	calls    []string
	failAdd  error
	state    string
}

func newFakeClients() *fakeClients {
	return &fakeClients{
		existing: map[string]bool{"alice": true, "bob": true},
		profiles: map[string][]byte{"alice": []byte("client\n")},
		dup:      map[string]bool{},
		state:    "active",
	}
}

func (f *fakeClients) log(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeClients) ClientExists(name string) (bool, error) { return f.existing[name], nil }

func (f *fakeClients) AddClient(_ context.Context, name string, days int, dup bool) error {
	f.log("add " + name)
	if f.failAdd != nil {
		return f.failAdd
	}
	if f.existing[name] {
		return easyrsa.ErrClientExists
	}
	f.existing[name] = true
	f.profiles[name] = []byte("client\n")
	f.dup[name] = dup
	return nil
}

func (f *fakeClients) RevokeClient(_ context.Context, name string) error {
	f.log("revoke " + name)
	return nil
}

func (f *fakeClients) DeleteClient(_ context.Context, name string) error {
	f.log("delete " + name)
	delete(f.existing, name)
	delete(f.profiles, name)
	return nil
}

func (f *fakeClients) ExtendClient(_ context.Context, name string, days int) error {
	f.log("extend " + name)
	return nil
}

func (f *fakeClients) SetDuplicateCN(name string, allow bool) error {
	if _, ok := f.profiles[name]; !ok {
		return easyrsa.ErrConfigNotFound
	}
	f.dup[name] = allow
	return nil
}

func (f *fakeClients) HasDuplicateCN(name string) (bool, error) {
	if _, ok := f.profiles[name]; !ok {
		return false, easyrsa.ErrConfigNotFound
	}
	return f.dup[name], nil
}

func (f *fakeClients) Profile(name string) ([]byte, error) {
	data, ok := f.profiles[name]
	if !ok {
		return nil, easyrsa.ErrConfigNotFound
	}
	return data, nil
}

func (f *fakeClients) ServiceState(context.Context) string { return f.state }

func (f *fakeClients) RestartService(context.Context) error {
	f.log("restart")
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *memoryAudit) Create(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type countingRecorder struct {
	storeErrors []string
	clients     int
	server      *report.ServerSnapshot
}

func (r *countingRecorder) ObserveServer(s report.ServerSnapshot) { r.server = &s }
func (r *countingRecorder) ObserveClients(reports []report.ClientReport, _ map[string]time.Time, _ time.Time) {
	r.clients = len(reports)
}
func (r *countingRecorder) UsageStoreError(op string) { r.storeErrors = append(r.storeErrors, op) }

type fixture struct {
	panel    *Panel
	clients  *fakeClients
	audit    *memoryAudit
	recorder *countingRecorder
	store    bandwidth.Store
	cfg      config.OpenVPNConfig
}

func newFixture(t *testing.T, store bandwidth.Store) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default().OpenVPN
	cfg.EasyRSADir = filepath.Join(root, "easy-rsa")
	cfg.OpenVPNDir = filepath.Join(root, "server")
	cfg.StatusLog = filepath.Join(root, "status.log")

	mustWrite(t, cfg.IndexFile(), testIndex)
	mustWrite(t, cfg.StatusLog, testStatus)
	mustWrite(t, cfg.ServerConfigFile(), "port 443\nproto tcp\nserver 10.9.0.0 255.255.255.0\n")

	log := logrus.New()
	log.SetOutput(io.Discard)

	if store == nil {
		store = bandwidth.NewMemoryStore(nil)
	}

	f := &fixture{
		clients:  newFakeClients(),
		audit:    &memoryAudit{},
		recorder: &countingRecorder{},
		store:    store,
		cfg:      cfg,
	}
	f.panel = New(Options{
		OpenVPN:   cfg,
		Ledger:    bandwidth.NewLedger(store, log),
		Clients:   f.clients,
		Validator: policy.NewValidator(config.Default().Policy),
		Audit:     f.audit,
		Recorder:  f.recorder,
		Logger:    log,
	})
	return f
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListClients(t *testing.T) {
	f := newFixture(t, nil)

	reports, err := f.panel.ListClients(context.Background())
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("server identity must be hidden, got %+v", reports)
	}
	if reports[0].Name != "alice" || !reports[0].Connected || reports[0].BytesSent != 2000 {
		t.Fatalf("unexpected alice: %+v", reports[0])
	}
	if reports[1].Name != "bob" || reports[1].Connected || reports[1].Status != "Revoked" {
		t.Fatalf("unexpected bob: %+v", reports[1])
	}
	if f.recorder.clients != 2 {
		t.Fatalf("recorder not fed: %d", f.recorder.clients)
	}
}

func TestCollectAccumulatesAcrossSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.panel.Collect(ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// alice reconnects: counters restart from a lower value
	mustWrite(t, f.cfg.StatusLog, "CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,10,20,2025-03-01 11:00:00\n")
	view, err := f.panel.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	alice := view.Reports[0]
	if alice.TotalSent != 2020 || alice.TotalReceived != 1010 {
		t.Fatalf("expected lifetime 2020/1010, got %d/%d", alice.TotalSent, alice.TotalReceived)
	}
	if alice.BytesSent != 20 {
		t.Fatalf("session bytes must be the live counters, got %d", alice.BytesSent)
	}

	// alice disconnects: lifetime stays
	mustWrite(t, f.cfg.StatusLog, "")
	view, _ = f.panel.Collect(ctx)
	if view.Reports[0].Connected || view.Reports[0].TotalSent != 2020 {
		t.Fatalf("disconnected client must keep lifetime: %+v", view.Reports[0])
	}
}

type brokenStore struct{ bandwidth.Store }

func (brokenStore) Load(context.Context) (map[string]models.CumulativeUsage, error) {
	return nil, errors.New("database is locked")
}

func TestCollectSurvivesBrokenStore(t *testing.T) {
	f := newFixture(t, brokenStore{})

	view, err := f.panel.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect must still succeed: %v", err)
	}
	if view.UsageErr == nil {
		t.Fatal("expected usage error to be surfaced")
	}
	if view.Reports[0].TotalSent != 2000 {
		t.Fatalf("expected live counters as lifetime, got %+v", view.Reports[0])
	}
	if len(f.recorder.storeErrors) != 1 || f.recorder.storeErrors[0] != "load" {
		t.Fatalf("expected one load error recorded, got %v", f.recorder.storeErrors)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)

	s, err := f.panel.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.TotalClients != 2 || s.ActiveClients != 1 || s.RevokedClients != 1 || s.ConnectedClients != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if !s.ServerRunning || s.Port != "443" || s.Protocol != "tcp" {
		t.Fatalf("unexpected server fields: %+v", s)
	}
	if f.recorder.server == nil {
		t.Fatal("server snapshot not recorded")
	}
}

func TestAddClientSanitisesAndAudits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	actor := Actor{Username: "admin", IP: "10.0.0.1"}

	name, err := f.panel.AddClient(ctx, actor, "carol smith", 0, true)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if name != "carol_smith" {
		t.Fatalf("expected sanitised name, got %q", name)
	}
	if !f.clients.dup["carol_smith"] {
		t.Fatal("duplicate-cn not passed through")
	}

	if _, err := f.panel.AddClient(ctx, actor, "   ", 0, false); !IsInvalid(err) {
		t.Fatalf("blank name: expected invalid, got %v", err)
	}
	if _, err := f.panel.AddClient(ctx, actor, "dave", 9000, false); !IsInvalid(err) {
		t.Fatalf("too many days: expected invalid, got %v", err)
	}
	if _, err := f.panel.AddClient(ctx, actor, "alice", 30, false); !IsConflict(err) {
		t.Fatalf("existing: expected conflict, got %v", err)
	}

	if len(f.audit.entries) != 2 {
		t.Fatalf("expected audit rows for attempted mutations only, got %d", len(f.audit.entries))
	}
	if e := f.audit.entries[0]; e.Action != models.ActionClientAdd || !e.Success || e.Client != "carol_smith" || e.Username != "admin" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e := f.audit.entries[1]; e.Success || e.ErrorMsg == "" {
		t.Fatalf("failed add must be audited as failure: %+v", e)
	}
}

func TestDeleteClientForgetsUsage(t *testing.T) {
	store := bandwidth.NewMemoryStore(map[string]models.CumulativeUsage{"alice": {Name: "alice", TotalSent: 99}})
	f := newFixture(t, store)
	ctx := context.Background()

	if _, err := f.panel.DeleteClient(ctx, Actor{}, "alice"); err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	usage, _ := store.Load(ctx)
	if _, ok := usage["alice"]; ok {
		t.Fatal("usage row must be removed with the client")
	}
}

func TestRevokeAndExtendRequireClient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.panel.RevokeClient(ctx, Actor{}, "ghost"); !IsNotFound(err) {
		t.Fatalf("revoke: expected not found, got %v", err)
	}
	if _, err := f.panel.ExtendClient(ctx, Actor{}, "ghost", 30); !IsNotFound(err) {
		t.Fatalf("extend: expected not found, got %v", err)
	}
	if _, err := f.panel.ExtendClient(ctx, Actor{}, "alice", 0); err != nil {
		t.Fatalf("extend alice: %v", err)
	}
	if _, err := f.panel.EditClient(ctx, Actor{}, "bob", true); !IsNotFound(err) {
		t.Fatalf("edit without profile: expected not found, got %v", err)
	}
}

func TestClientInfo(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.clients.dup["alice"] = true

	info, err := f.panel.ClientInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("ClientInfo: %v", err)
	}
	if !info.HasConfig || !info.DuplicateCN || info.Serial != "02" || info.Expiry != "2026-01-01" {
		t.Fatalf("unexpected info: %+v", info)
	}

	bob, err := f.panel.ClientInfo(ctx, "bob")
	if err != nil {
		t.Fatalf("ClientInfo(bob): %v", err)
	}
	if bob.HasConfig || bob.RevokedAt != "231201000000Z" {
		t.Fatalf("unexpected bob: %+v", bob)
	}

	if _, err := f.panel.ClientInfo(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
