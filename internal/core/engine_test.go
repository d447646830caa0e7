package core

import (
	"context"
	"errors"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/state"
)

type engineFixture struct {
	engine   *SyncEngine
	prober   *fakeProber
	store    *fakeStore
	creds    *fakeCreds
	provider *fakeProvider
	state    *state.IPState
	clock    time.Time
}

func (f *engineFixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newEngineFixture(t *testing.T, families []domain.Family, recs ...domain.ManagedRecord) *engineFixture {
	t.Helper()
	f := &engineFixture{
		prober:   newFakeProber(),
		store:    newFakeStore(recs...),
		creds:    newFakeCreds(),
		provider: newFakeProvider(),
		state:    state.NewIPState(),
		clock:    time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
	}
	cfg := &config.AppConfig{ProbeFrequency: 300, CycleInterval: 1, DefaultTTL: 600}
	f.engine = NewSyncEngine(zerolog.Nop(), cfg, families, f.prober, f.state, f.store, f.creds, f.provider.factory)
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func addressRecord(id, accountID int64, host string, rt domain.RecordType, providerID uint64) domain.ManagedRecord {
	return domain.ManagedRecord{
		ID:               id,
		AccountID:        accountID,
		Host:             host,
		Domain:           "example.com",
		Type:             rt,
		ProviderRecordID: providerID,
		TTL:              600,
	}
}

var bothFamilies = []domain.Family{domain.FamilyV4, domain.FamilyV6}

func TestRunCycleFamilyIsolation(t *testing.T) {
	f := newEngineFixture(t, bothFamilies,
		addressRecord(1, 1, "www", domain.RecordA, 11),
		addressRecord(2, 1, "www6", domain.RecordAAAA, 12),
	)
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.prober.set(domain.FamilyV6, "2001:db8::1")

	report := f.engine.RunCycle(context.Background())
	if !report.Changed(domain.FamilyV4) || !report.Changed(domain.FamilyV6) {
		t.Fatalf("first cycle should see both families change: %+v", report.Families)
	}
	if len(f.provider.modifies) != 2 {
		t.Fatalf("expected 2 modifies, got %+v", f.provider.modifies)
	}

	f.advance(301 * time.Second)
	f.prober.set(domain.FamilyV4, "203.0.113.2")
	report = f.engine.RunCycle(context.Background())
	if !report.Changed(domain.FamilyV4) || report.Changed(domain.FamilyV6) {
		t.Fatalf("only v4 should change: %+v", report.Families)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].RecordID != 1 {
		t.Fatalf("only the A record should be touched: %+v", report.Outcomes)
	}
	last := f.provider.modifies[len(f.provider.modifies)-1]
	want := modifyCall{AccountID: 1, RecordID: 11, Host: "www", Zone: "example.com", Type: domain.RecordA, Value: "203.0.113.2", TTL: 600}
	if last != want {
		t.Fatalf("modify = %+v, want %+v", last, want)
	}
	if got := f.store.records[1].Value; got != "203.0.113.2" {
		t.Fatalf("stored value = %q", got)
	}
	if got := f.store.records[2].Value; got != "2001:db8::1" {
		t.Fatalf("AAAA record should keep its value, got %q", got)
	}
}

func TestRunCycleNoChangeNoRecordTraffic(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.engine.RunCycle(context.Background())

	lists, modifies := f.store.lists, len(f.provider.modifies)
	f.advance(301 * time.Second)
	report := f.engine.RunCycle(context.Background())

	if f.prober.count(domain.FamilyV4) != 2 {
		t.Fatalf("expected a second probe, got %d", f.prober.count(domain.FamilyV4))
	}
	if report.AnyChanged() || len(report.Outcomes) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if f.store.lists != lists || len(f.provider.modifies) != modifies {
		t.Fatalf("no store or provider traffic expected without a change")
	}
}

func TestRunCycleThrottlesProbes(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4})
	f.prober.set(domain.FamilyV4, "203.0.113.1")

	f.engine.RunCycle(context.Background())
	f.advance(60 * time.Second)
	report := f.engine.RunCycle(context.Background())
	if n := f.prober.count(domain.FamilyV4); n != 1 {
		t.Fatalf("probe inside the window: %d calls", n)
	}
	if report.Families[0].Probed {
		t.Fatalf("report should mark the family as not probed")
	}

	// The window is measured from the last change, so an unchanged probe
	// does not push the next one out.
	f.advance(241 * time.Second)
	f.engine.RunCycle(context.Background())
	f.advance(60 * time.Second)
	f.engine.RunCycle(context.Background())
	if n := f.prober.count(domain.FamilyV4); n != 3 {
		t.Fatalf("expected 3 probes, got %d", n)
	}
}

func TestRunCycleFailureIsolation(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4},
		addressRecord(1, 1, "a", domain.RecordA, 11),
		addressRecord(2, 1, "b", domain.RecordA, 12),
		addressRecord(3, 1, "c", domain.RecordA, 13),
	)
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.provider.modifyErr[12] = errors.New("provider said no")

	report := f.engine.RunCycle(context.Background())
	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %+v", report.Outcomes)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].RecordID != 2 {
		t.Fatalf("unexpected failures %+v", failed)
	}
	if report.Err != nil {
		t.Fatalf("record failure should not fail the cycle: %v", report.Err)
	}
	if len(f.provider.modifies) != 3 {
		t.Fatalf("all records should be attempted, got %d", len(f.provider.modifies))
	}
	if last, ok := f.engine.LastReport(); !ok || last.ID != report.ID {
		t.Fatalf("LastReport should return the cycle report")
	}
}

func TestRunCyclePersistsBeforeModify(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	var events []string
	f.store.events = &events
	f.provider.events = &events
	f.prober.set(domain.FamilyV4, "203.0.113.1")

	f.engine.RunCycle(context.Background())
	want := []string{"store.update 1", "provider.modify 11"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestRunCyclePersistFailureSkipsProvider(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4},
		addressRecord(1, 1, "a", domain.RecordA, 11),
		addressRecord(2, 1, "b", domain.RecordA, 12),
	)
	f.store.updateErr[1] = errors.New("disk full")
	f.prober.set(domain.FamilyV4, "203.0.113.1")

	report := f.engine.RunCycle(context.Background())
	if len(report.Failed()) != 1 || report.Failed()[0].RecordID != 1 {
		t.Fatalf("unexpected failures %+v", report.Failed())
	}
	if len(f.provider.modifies) != 1 || f.provider.modifies[0].RecordID != 12 {
		t.Fatalf("only record 2 should reach the provider: %+v", f.provider.modifies)
	}
}

func TestRunCycleCredentialsOncePerAccount(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4},
		addressRecord(1, 1, "a", domain.RecordA, 11),
		addressRecord(2, 1, "b", domain.RecordA, 12),
		addressRecord(3, 2, "c", domain.RecordA, 13),
		addressRecord(4, 3, "d", domain.RecordA, 14),
		addressRecord(5, 3, "e", domain.RecordA, 15),
	)
	f.creds.missing[3] = true
	f.prober.set(domain.FamilyV4, "203.0.113.1")

	report := f.engine.RunCycle(context.Background())
	for acct, n := range f.creds.lookups {
		if n != 1 {
			t.Errorf("account %d looked up %d times", acct, n)
		}
	}
	if f.provider.opened[1] != 1 || f.provider.opened[2] != 1 || f.provider.opened[3] != 0 {
		t.Errorf("unexpected sessions %v", f.provider.opened)
	}
	failed := report.Failed()
	if len(failed) != 2 || failed[0].AccountID != 3 || failed[1].AccountID != 3 {
		t.Fatalf("account 3 records should fail: %+v", failed)
	}
	if len(f.provider.modifies) != 3 {
		t.Fatalf("expected 3 modifies, got %d", len(f.provider.modifies))
	}
}

func TestRunCycleProbeErrorIsolatedToFamily(t *testing.T) {
	f := newEngineFixture(t, bothFamilies,
		addressRecord(1, 1, "www", domain.RecordA, 11),
		addressRecord(2, 1, "www6", domain.RecordAAAA, 12),
	)
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.prober.errs[domain.FamilyV6] = errors.New("no route to host")

	report := f.engine.RunCycle(context.Background())
	if report.Families[1].Err == nil || report.Changed(domain.FamilyV6) {
		t.Fatalf("v6 should carry the probe error: %+v", report.Families)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Type != domain.RecordA {
		t.Fatalf("only the A record should be updated: %+v", report.Outcomes)
	}
}

func TestRunCycleIgnoresOtherFamilyAnswer(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	// A prober reports a mismatched family as the zero address.
	f.prober.addrs[domain.FamilyV4] = netip.Addr{}

	report := f.engine.RunCycle(context.Background())
	if report.AnyChanged() || f.store.lists != 0 {
		t.Fatalf("zero address must not count as a change: %+v", report)
	}
}

func TestRunCycleCancelledBetweenRecords(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4},
		addressRecord(1, 1, "a", domain.RecordA, 11),
		addressRecord(2, 1, "b", domain.RecordA, 12),
	)
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.onModify = cancel

	report := f.engine.RunCycle(ctx)
	if !report.Cancelled {
		t.Fatalf("report should be marked cancelled")
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Err != nil {
		t.Fatalf("the in-flight record should complete and no other start: %+v", report.Outcomes)
	}
}

func TestRunCycleCancelledBeforeRecords(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "a", domain.RecordA, 11))
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prober.onCall = func(domain.Family) { cancel() }

	report := f.engine.RunCycle(ctx)
	if !report.Cancelled || f.store.lists != 0 {
		t.Fatalf("records should not be touched after cancellation: %+v", report)
	}
	if addr, ok := f.state.Get(domain.FamilyV4); !ok || addr.String() != "203.0.113.1" {
		t.Fatalf("probe result should still be applied, got %v", addr)
	}
	if f.engine.State() != StateIdle {
		t.Fatalf("engine should be idle after a cycle")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4})
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	ctx, cancel := context.WithCancel(context.Background())
	f.prober.onCall = func(domain.Family) { cancel() }

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
	if _, ok := f.engine.LastReport(); !ok {
		t.Fatalf("the first cycle should have completed")
	}
}

func TestRunCycleRetriesNetworkFailure(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.provider.modifyErr[11] = &dnspod.NetworkError{Action: "ModifyRecord", Err: context.DeadlineExceeded}

	report := f.engine.RunCycle(context.Background())
	if len(report.Failed()) != 1 || !report.Failed()[0].Retry {
		t.Fatalf("network failure should be queued for retry: %+v", report.Outcomes)
	}
	if f.engine.Pending() != 1 {
		t.Fatalf("expected 1 pending record, got %d", f.engine.Pending())
	}

	// The address is unchanged and the probe throttled, but the owed update still runs.
	delete(f.provider.modifyErr, 11)
	f.advance(60 * time.Second)
	report = f.engine.RunCycle(context.Background())
	if report.AnyChanged() {
		t.Fatalf("no family should change: %+v", report.Families)
	}
	if len(report.Outcomes) != 1 || !report.Outcomes[0].OK() {
		t.Fatalf("retry should succeed: %+v", report.Outcomes)
	}
	if len(f.provider.modifies) != 2 || f.provider.modifies[1].Value != "203.0.113.1" {
		t.Fatalf("unexpected modifies %+v", f.provider.modifies)
	}
	if f.engine.Pending() != 0 {
		t.Fatalf("pending should be empty after success, got %d", f.engine.Pending())
	}

	f.advance(60 * time.Second)
	if report = f.engine.RunCycle(context.Background()); len(report.Outcomes) != 0 {
		t.Fatalf("nothing left to do: %+v", report.Outcomes)
	}
}

func TestRunCycleDoesNotRetryProviderRejection(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.provider.modifyErr[11] = &dnspod.ProviderError{Action: "ModifyRecord", Code: "InvalidParameter.RecordIdInvalid"}

	report := f.engine.RunCycle(context.Background())
	if len(report.Failed()) != 1 || report.Failed()[0].Retry {
		t.Fatalf("provider rejection is final for this address: %+v", report.Outcomes)
	}
	f.advance(60 * time.Second)
	if report = f.engine.RunCycle(context.Background()); len(report.Outcomes) != 0 {
		t.Fatalf("rejected record should wait for the next change: %+v", report.Outcomes)
	}
}

func TestRunCycleRetriesPersistFailure(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.store.updateErr[1] = errors.New("database is locked")

	f.engine.RunCycle(context.Background())
	if len(f.provider.modifies) != 0 || f.engine.Pending() != 1 {
		t.Fatalf("persist failure should skip the provider and queue the record")
	}

	delete(f.store.updateErr, 1)
	f.advance(60 * time.Second)
	f.engine.RunCycle(context.Background())
	if len(f.provider.modifies) != 1 || f.store.records[1].Value != "203.0.113.1" {
		t.Fatalf("record should be persisted and pushed on retry: %+v", f.provider.modifies)
	}
}

func TestRunCycleForgetsDeletedPendingRecord(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4},
		addressRecord(1, 1, "a", domain.RecordA, 11),
		addressRecord(2, 1, "b", domain.RecordA, 12),
	)
	f.prober.set(domain.FamilyV4, "203.0.113.1")
	f.provider.modifyErr[11] = &dnspod.HTTPStatusError{Action: "ModifyRecord", StatusCode: 503}
	f.provider.modifyErr[12] = &dnspod.HTTPStatusError{Action: "ModifyRecord", StatusCode: 503}
	f.engine.RunCycle(context.Background())
	if f.engine.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", f.engine.Pending())
	}

	delete(f.store.records, 1)
	f.advance(60 * time.Second)
	f.engine.RunCycle(context.Background())
	if f.engine.Pending() != 1 {
		t.Fatalf("only the remaining record should stay queued, got %d", f.engine.Pending())
	}
}

// lockingStore fails its lock a fixed number of times.
type lockingStore struct {
	*fakeStore
	failures int
	keys     [][]string
}

func (s *lockingStore) LockTransaction(ctx context.Context, keys []string, fn func() error) error {
	s.keys = append(s.keys, keys)
	if s.failures > 0 {
		s.failures--
		return errors.New("failed to acquire lock on __global__")
	}
	return fn()
}

func TestRunCycleLockFailureCarriesChangeForward(t *testing.T) {
	f := newEngineFixture(t, []domain.Family{domain.FamilyV4}, addressRecord(1, 1, "www", domain.RecordA, 11))
	store := &lockingStore{fakeStore: f.store, failures: 1}
	f.engine.store = store
	f.prober.set(domain.FamilyV4, "203.0.113.1")

	report := f.engine.RunCycle(context.Background())
	if report.Err == nil || len(f.provider.modifies) != 0 {
		t.Fatalf("expected the cycle to fail on the lock: %+v", report)
	}

	f.advance(60 * time.Second)
	report = f.engine.RunCycle(context.Background())
	if report.Err != nil || len(report.Outcomes) != 1 || len(f.provider.modifies) != 1 {
		t.Fatalf("the change should be applied once the lock is free: %+v", report)
	}
	if !reflect.DeepEqual(store.keys[0], []string{globalLockKey}) {
		t.Fatalf("record phase should hold the global lock, got %v", store.keys)
	}

	f.advance(60 * time.Second)
	if report = f.engine.RunCycle(context.Background()); len(store.keys) != 2 || len(report.Outcomes) != 0 {
		t.Fatalf("the carried change should be consumed: %+v", report)
	}
}
