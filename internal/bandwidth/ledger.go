package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by a Store when no row exists for a client
var ErrNotFound = errors.New("usage not found")

// StoreError reports which side of an Observe pass failed
type StoreError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s usage: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store persists cumulative usage rows keyed by client name
type Store interface {
	// Load returns every stored row
	Load(ctx context.Context) (map[string]models.CumulativeUsage, error)
	// Save upserts the given rows and leaves the others untouched
	Save(ctx context.Context, rows map[string]models.CumulativeUsage) error
	// Delete removes the row of one client
	Delete(ctx context.Context, name string) error
}

// Ledger serialises read-modify-write cycles against a Store so concurrent
// requests cannot lose each other's updates.
type Ledger struct {
	mu    sync.Mutex
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewLedger creates a new ledger over store
func NewLedger(store Store, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Observe loads the stored rows, reconciles them with live and persists the
// rows that were observed.
//
// The returned map is always usable. When the store cannot be read the
// snapshot is reconciled against an empty store and nothing is written back,
// so the persisted totals are not replaced by zero-based rows. When the write
// fails the error is returned together with the in-memory result.
func (l *Ledger) Observe(ctx context.Context, live map[string]openvpn.ConnectionRecord) (map[string]models.CumulativeUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.store.Load(ctx)
	if err != nil {
		l.log.WithError(err).Warn("usage store unreadable, reporting live counters only")
		return Reconcile(live, nil), &StoreError{Op: "load", Err: err}
	}

	usage := Reconcile(live, stored)

	changed := Observed(live, stored, usage)
	if len(changed) == 0 {
		return usage, nil
	}

	now := l.now()
	for name, u := range changed {
		u.UpdatedAt = now
		changed[name] = u
		usage[name] = u
	}

	if err := l.store.Save(ctx, changed); err != nil {
		l.log.WithError(err).WithField("clients", len(changed)).Error("failed to persist usage")
		return usage, &StoreError{Op: "save", Err: err}
	}

	return usage, nil
}

// Usage returns the stored rows without observing anything
func (l *Ledger) Usage(ctx context.Context) (map[string]models.CumulativeUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.Load(ctx)
}

// Forget deletes the usage row of a client. A missing row is not an error.
func (l *Ledger) Forget(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete usage: %w", err)
	}
	return nil
}
