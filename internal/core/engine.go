package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/util"
)

const globalLockKey = "__global__"

// SyncEngine probes the public address and pushes changes to the managed records.
type SyncEngine struct {
	logger    zerolog.Logger
	cfg       *config.AppConfig
	families  []domain.Family
	prober    prober
	state     ipState
	store     recordStore
	creds     credentialLookup
	providers ProviderFactory
	now       func() time.Time

	mu     sync.RWMutex
	phase  EngineState
	last   CycleReport
	hasRun bool

	// Work carried into later cycles: records whose update failed with a
	// retryable error, and families whose record phase did not run.
	retryMu       sync.Mutex
	retryRecords  map[int64]bool
	retryFamilies map[domain.Family]bool
}

func NewSyncEngine(logger zerolog.Logger, cfg *config.AppConfig, families []domain.Family, p prober, st ipState, store recordStore, creds credentialLookup, providers ProviderFactory) *SyncEngine {
	return &SyncEngine{
		logger:    logger,
		cfg:       cfg,
		families:  families,
		prober:    p,
		state:     st,
		store:     store,
		creds:     creds,
		providers: providers,
		now:       time.Now,
		phase:     StateIdle,

		retryRecords:  make(map[int64]bool),
		retryFamilies: make(map[domain.Family]bool),
	}
}

// State returns the current engine phase.
func (se *SyncEngine) State() EngineState {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return se.phase
}

// LastReport returns the report of the most recent finished cycle.
func (se *SyncEngine) LastReport() (CycleReport, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return se.last, se.hasRun
}

func (se *SyncEngine) setPhase(p EngineState) {
	se.mu.Lock()
	se.phase = p
	se.mu.Unlock()
}

// Run executes a cycle immediately and then again cycle_interval after each
// cycle finishes, until ctx is cancelled.
func (se *SyncEngine) Run(ctx context.Context) error {
	se.logger.Info().Msg("Starting SyncEngine")
	interval := se.cfg.CycleIntervalDuration()
	for {
		if err := ctx.Err(); err != nil {
			se.logger.Info().Msg("SyncEngine shutting down")
			return err
		}
		se.runCycleSafe(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			se.logger.Info().Msg("SyncEngine shutting down")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (se *SyncEngine) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			se.setPhase(StateIdle)
			se.logger.Error().Msgf("Reconciliation cycle panicked: %v", r)
		}
	}()
	report := se.RunCycle(ctx)
	if report.Err != nil {
		se.logger.Error().Err(report.Err).Str("cycle_id", report.ID).Msg("Sync error")
	}
}

// RunCycle performs one probe and reconcile pass. Record failures are
// collected in the report and never stop the remaining records.
func (se *SyncEngine) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{ID: uuid.NewString(), StartedAt: se.now()}
	log := se.logger.With().Str("cycle_id", report.ID).Logger()
	log.Debug().Msg("Reconciliation cycle start")

	se.setPhase(StateProbing)
	changed := se.probeFamilies(ctx, log, &report)
	se.setPhase(StateIdle)
	changed, retries := se.takePending(changed)

	switch {
	case len(changed) == 0 && len(retries) == 0:
		log.Debug().Msg("No address change, nothing to reconcile")
	case ctx.Err() != nil:
		report.Cancelled = true
		se.deferFamilies(changed)
		log.Info().Msg("Cancelled before record reconciliation")
	default:
		report.Err = withStoreLock(ctx, se.store, []string{globalLockKey}, func() error {
			return se.reconcileRecords(ctx, log, changed, retries, &report)
		})
		if report.Err != nil {
			se.deferFamilies(changed)
		}
	}

	report.FinishedAt = se.now()
	se.mu.Lock()
	se.last = report
	se.hasRun = true
	se.mu.Unlock()

	if n := len(report.Failed()); n > 0 {
		log.Warn().Msgf("Cycle finished with %d of %d record updates failed", n, len(report.Outcomes))
	} else if len(report.Outcomes) > 0 {
		log.Info().Msgf("Cycle finished, %d records updated", len(report.Outcomes))
	}
	return report
}

func (se *SyncEngine) probeFamilies(ctx context.Context, log zerolog.Logger, report *CycleReport) map[domain.Family]bool {
	changed := make(map[domain.Family]bool)
	frequency := se.cfg.ProbeFrequencyDuration()
	// Probes are short and bounded by the prober's own timeout.
	probeCtx := context.WithoutCancel(ctx)
	for _, family := range se.families {
		res := FamilyResult{Family: family}
		if !se.state.ShouldProbe(family, se.now(), frequency) {
			log.Debug().Str("family", string(family)).Msg("Probe throttled")
			report.Families = append(report.Families, res)
			continue
		}
		res.Probed = true
		addr, err := se.prober.Probe(probeCtx, family)
		switch {
		case err != nil:
			res.Err = err
			log.Warn().Err(err).Str("family", string(family)).Msg("Probe failed")
		case !addr.IsValid():
			log.Debug().Str("family", string(family)).Msg("Probe returned no usable address")
		default:
			res.Addr = addr
			if se.state.Apply(family, addr, se.now()) {
				res.Changed = true
				changed[family] = true
				log.Info().Str("family", string(family)).Msgf("Public address changed to %s", addr)
			}
		}
		report.Families = append(report.Families, res)
	}
	return changed
}

type providerSession struct {
	provider Provider
	err      error
}

func (se *SyncEngine) reconcileRecords(ctx context.Context, log zerolog.Logger, changed map[domain.Family]bool, retries map[int64]bool, report *CycleReport) error {
	records, err := se.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list managed records: %w", err)
	}
	se.pruneRetries(records)
	due := util.Filter(records, func(rec domain.ManagedRecord) bool {
		family, ok := rec.Type.Family()
		return ok && (changed[family] || retries[rec.ID])
	})

	sessions := make(map[int64]*providerSession)
	for i, rec := range due {
		if ctx.Err() != nil {
			report.Cancelled = true
			for _, left := range due[i:] {
				se.noteRetry(left.ID, true)
			}
			log.Info().Msgf("Cancelled with %d records left", len(due)-i)
			break
		}
		outcome := se.reconcileRecord(ctx, rec, sessions)
		se.noteRetry(rec.ID, outcome.Retry)
		report.Outcomes = append(report.Outcomes, outcome)
		ev := log.Info()
		if outcome.Err != nil {
			ev = log.Error().Err(outcome.Err)
		}
		ev.Int64("record_id", rec.ID).
			Str("fqdn", outcome.FQDN).
			Str("type", string(rec.Type)).
			Str("value", outcome.Value).
			Msg("Record reconciled")
	}
	return nil
}

func (se *SyncEngine) reconcileRecord(ctx context.Context, rec domain.ManagedRecord, sessions map[int64]*providerSession) RecordOutcome {
	out := RecordOutcome{RecordID: rec.ID, AccountID: rec.AccountID, FQDN: rec.FQDN(), Type: rec.Type}

	family, _ := rec.Type.Family()
	addr, ok := se.state.Get(family)
	if !ok {
		out.Err = NewNoAddressError(family)
		return out
	}
	out.Value = addr.String()

	sess := se.session(ctx, rec.AccountID, sessions)
	if sess.err != nil {
		out.Err = sess.err
		return out
	}

	rec.Value = out.Value
	if err := se.store.Update(ctx, rec.ID, rec); err != nil {
		// The provider was not touched, so the update is still owed.
		out.Err = fmt.Errorf("persist record %d: %w", rec.ID, err)
		out.Retry = true
		return out
	}
	if err := sess.provider.Modify(ctx, rec.ProviderRecordID, rec.Host, rec.Domain, rec.Type, rec.Value, rec.TTL); err != nil {
		out.Err = fmt.Errorf("modify record %d: %w", rec.ID, err)
		out.Retry = dnspod.IsRetryable(err)
	}
	return out
}

// session looks credentials up once per account per cycle.
func (se *SyncEngine) session(ctx context.Context, accountID int64, sessions map[int64]*providerSession) *providerSession {
	if s, ok := sessions[accountID]; ok {
		return s
	}
	s := &providerSession{}
	creds, err := se.creds.Credentials(ctx, accountID)
	if err != nil {
		s.err = fmt.Errorf("lookup credentials for account %d: %w", accountID, err)
	} else {
		s.provider = se.providers(accountID, creds)
	}
	sessions[accountID] = s
	return s
}

// takePending merges the families and records left over from earlier cycles
// into this one and clears them.
func (se *SyncEngine) takePending(changed map[domain.Family]bool) (map[domain.Family]bool, map[int64]bool) {
	se.retryMu.Lock()
	defer se.retryMu.Unlock()
	for f := range se.retryFamilies {
		changed[f] = true
	}
	se.retryFamilies = make(map[domain.Family]bool)
	retries := make(map[int64]bool, len(se.retryRecords))
	for id := range se.retryRecords {
		retries[id] = true
	}
	return changed, retries
}

// deferFamilies keeps families whose records were not reconciled for the next cycle.
func (se *SyncEngine) deferFamilies(families map[domain.Family]bool) {
	se.retryMu.Lock()
	defer se.retryMu.Unlock()
	for f := range families {
		se.retryFamilies[f] = true
	}
}

func (se *SyncEngine) noteRetry(id int64, retry bool) {
	se.retryMu.Lock()
	defer se.retryMu.Unlock()
	if retry {
		se.retryRecords[id] = true
	} else {
		delete(se.retryRecords, id)
	}
}

// pruneRetries forgets queued records that are no longer managed.
func (se *SyncEngine) pruneRetries(records []domain.ManagedRecord) {
	live := make(map[int64]bool, len(records))
	for _, rec := range records {
		live[rec.ID] = true
	}
	se.retryMu.Lock()
	defer se.retryMu.Unlock()
	for id := range se.retryRecords {
		if !live[id] {
			delete(se.retryRecords, id)
		}
	}
}

// Pending reports how many records are queued for another attempt.
func (se *SyncEngine) Pending() int {
	se.retryMu.Lock()
	defer se.retryMu.Unlock()
	return len(se.retryRecords)
}
