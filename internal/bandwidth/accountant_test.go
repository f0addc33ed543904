package bandwidth

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
	"github.com/sirupsen/logrus"
)

func conn(name string, sent, received uint64) openvpn.ConnectionRecord {
	return openvpn.ConnectionRecord{Name: name, BytesSent: sent, BytesReceived: received, Sessions: 1}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestReconcileCreatesRow(t *testing.T) {
	live := map[string]openvpn.ConnectionRecord{"alice": conn("alice", 100, 50)}

	out := Reconcile(live, nil)
	u, ok := out["alice"]
	if !ok {
		t.Fatal("expected a row for alice")
	}
	if u.TotalSent != 0 || u.TotalReceived != 0 || u.LastSent != 100 || u.LastReceived != 50 {
		t.Fatalf("unexpected row: %+v", u)
	}
}

func TestReconcileSessionReset(t *testing.T) {
	store := map[string]models.CumulativeUsage{
		"alice": {Name: "alice", TotalSent: 1000, TotalReceived: 10, LastSent: 5000, LastReceived: 300},
	}
	live := map[string]openvpn.ConnectionRecord{"alice": conn("alice", 200, 400)}

	out := Reconcile(live, store)
	u := out["alice"]
	if u.TotalSent != 6000 {
		t.Fatalf("expected total sent to grow by exactly 5000, got %d", u.TotalSent)
	}
	if u.LastSent != 200 {
		t.Fatalf("expected last sent 200, got %d", u.LastSent)
	}
	// received kept rising, so only the sent pair folded
	if u.TotalReceived != 10 || u.LastReceived != 400 {
		t.Fatalf("received pair must be independent: %+v", u)
	}

	if store["alice"].TotalSent != 1000 {
		t.Fatal("input store must not be modified")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := map[string]models.CumulativeUsage{
		"alice": {Name: "alice", TotalSent: 7, TotalReceived: 9, LastSent: 10, LastReceived: 20},
	}
	live := map[string]openvpn.ConnectionRecord{"alice": conn("alice", 30, 40)}

	first := Reconcile(live, store)
	second := Reconcile(live, first)
	if first["alice"] != second["alice"] {
		t.Fatalf("second pass changed the row: %+v vs %+v", first["alice"], second["alice"])
	}
	if second["alice"].TotalSent != 7 || second["alice"].TotalReceived != 9 {
		t.Fatalf("totals must not move within a session: %+v", second["alice"])
	}
}

func TestReconcileLeavesAbsentClients(t *testing.T) {
	bob := models.CumulativeUsage{Name: "bob", TotalSent: 1, LastSent: 99}
	store := map[string]models.CumulativeUsage{"bob": bob}

	out := Reconcile(map[string]openvpn.ConnectionRecord{}, store)
	if out["bob"] != bob {
		t.Fatalf("absent client must be untouched, got %+v", out["bob"])
	}
}

func TestReconcileSkipsRoutingOnlyPeers(t *testing.T) {
	store := map[string]models.CumulativeUsage{"carol": {Name: "carol", LastSent: 800}}
	live := map[string]openvpn.ConnectionRecord{
		"carol": {Name: "carol", FromRoutingTable: true},
	}

	out := Reconcile(live, store)
	if out["carol"].TotalSent != 0 || out["carol"].LastSent != 800 {
		t.Fatalf("unknown counters must not look like a reset: %+v", out["carol"])
	}
}

func TestReconcileRecordsFirstRoutingOnlySighting(t *testing.T) {
	live := map[string]openvpn.ConnectionRecord{
		"dave": {Name: "dave", FromRoutingTable: true},
	}

	out := Reconcile(live, nil)
	dave, ok := out["dave"]
	if !ok {
		t.Fatal("expected a zeroed row for dave")
	}
	if dave != (models.CumulativeUsage{Name: "dave"}) {
		t.Fatalf("first sighting must not carry counters: %+v", dave)
	}
}

func TestLedgerPersistsRoutingOnlyOnce(t *testing.T) {
	store := NewMemoryStore(map[string]models.CumulativeUsage{"carol": {Name: "carol", TotalSent: 9, LastSent: 800}})
	ledger := NewLedger(store, quietLogger())
	ctx := context.Background()

	live := map[string]openvpn.ConnectionRecord{
		"carol": {Name: "carol", FromRoutingTable: true},
		"dave":  {Name: "dave", FromRoutingTable: true},
	}
	if _, err := ledger.Observe(ctx, live); err != nil {
		t.Fatalf("Observe error: %v", err)
	}

	stored, _ := store.Load(ctx)
	if _, ok := stored["dave"]; !ok {
		t.Fatal("first sighting of dave must be persisted")
	}
	if !stored["carol"].UpdatedAt.IsZero() || stored["carol"].LastSent != 800 {
		t.Fatalf("known routing-only row must not be rewritten: %+v", stored["carol"])
	}
}

func TestLedgerObservePersists(t *testing.T) {
	store := NewMemoryStore(map[string]models.CumulativeUsage{
		"alice": {Name: "alice", LastSent: 5000},
		"bob":   {Name: "bob", TotalSent: 3, LastSent: 4},
	})
	ledger := NewLedger(store, quietLogger())
	ctx := context.Background()

	usage, err := ledger.Observe(ctx, map[string]openvpn.ConnectionRecord{"alice": conn("alice", 200, 0)})
	if err != nil {
		t.Fatalf("Observe error: %v", err)
	}
	if usage["alice"].LifetimeSent() != 5200 {
		t.Fatalf("expected lifetime 5200, got %d", usage["alice"].LifetimeSent())
	}
	if usage["bob"].LifetimeSent() != 7 {
		t.Fatalf("stored rows must be part of the result, got %+v", usage["bob"])
	}

	stored, _ := store.Load(ctx)
	if stored["alice"].TotalSent != 5000 || stored["alice"].LastSent != 200 {
		t.Fatalf("alice not persisted: %+v", stored["alice"])
	}
	if stored["alice"].UpdatedAt.IsZero() {
		t.Fatal("expected updated timestamp")
	}
	if !stored["bob"].UpdatedAt.IsZero() {
		t.Fatal("bob was not observed and must not be rewritten")
	}
}

type failingStore struct {
	*MemoryStore
	loadErr, saveErr error
}

func (f failingStore) Load(ctx context.Context) (map[string]models.CumulativeUsage, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.MemoryStore.Load(ctx)
}

func (f failingStore) Save(ctx context.Context, rows map[string]models.CumulativeUsage) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, rows)
}

func TestLedgerSaveFailureKeepsResult(t *testing.T) {
	store := failingStore{
		MemoryStore: NewMemoryStore(map[string]models.CumulativeUsage{"alice": {Name: "alice", LastSent: 10}}),
		saveErr:     errors.New("disk full"),
	}
	ledger := NewLedger(store, quietLogger())

	usage, err := ledger.Observe(context.Background(), map[string]openvpn.ConnectionRecord{"alice": conn("alice", 5, 0)})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "save" {
		t.Fatalf("expected save error to be reported, got %v", err)
	}
	if usage["alice"].TotalSent != 10 || usage["alice"].LastSent != 5 {
		t.Fatalf("in-memory result lost: %+v", usage["alice"])
	}
}

func TestLedgerLoadFailureDoesNotWrite(t *testing.T) {
	mem := NewMemoryStore(map[string]models.CumulativeUsage{"alice": {Name: "alice", TotalSent: 900, LastSent: 10}})
	ledger := NewLedger(failingStore{MemoryStore: mem, loadErr: errors.New("corrupt")}, quietLogger())

	usage, err := ledger.Observe(context.Background(), map[string]openvpn.ConnectionRecord{"alice": conn("alice", 5, 0)})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "load" {
		t.Fatalf("expected load error to be reported, got %v", err)
	}
	if usage["alice"].LastSent != 5 {
		t.Fatalf("expected live counters in result, got %+v", usage["alice"])
	}

	stored, _ := mem.Load(context.Background())
	if stored["alice"].TotalSent != 900 {
		t.Fatalf("stored totals must survive an unreadable pass: %+v", stored["alice"])
	}
}

func TestLedgerConcurrentObserve(t *testing.T) {
	store := NewMemoryStore(nil)
	ledger := NewLedger(store, quietLogger())
	ctx := context.Background()

	// Each goroutine reports a fresh session for its own client. Without the
	// ledger lock, concurrent passes would overwrite each other's rows.
	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := uint64(1); i <= 20; i++ {
				if _, err := ledger.Observe(ctx, map[string]openvpn.ConnectionRecord{name: conn(name, i*10, 0)}); err != nil {
					t.Errorf("Observe(%s): %v", name, err)
				}
			}
		}(name)
	}
	wg.Wait()

	stored, _ := store.Load(ctx)
	for _, name := range names {
		if stored[name].LastSent != 200 {
			t.Errorf("%s: expected last sent 200, got %+v", name, stored[name])
		}
	}
}

func TestLedgerForget(t *testing.T) {
	store := NewMemoryStore(map[string]models.CumulativeUsage{"alice": {Name: "alice"}})
	ledger := NewLedger(store, quietLogger())
	ctx := context.Background()

	if err := ledger.Forget(ctx, "alice"); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	if err := ledger.Forget(ctx, "alice"); err != nil {
		t.Fatalf("forgetting a missing row must succeed: %v", err)
	}
	usage, _ := ledger.Usage(ctx)
	if len(usage) != 0 {
		t.Fatalf("expected empty store, got %+v", usage)
	}
}
