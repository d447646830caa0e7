package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/core"
	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/ipaddr"
	"github.com/auto-dns/dnspod-ddns/internal/registry"
	"github.com/auto-dns/dnspod-ddns/internal/secretbox"
	"github.com/auto-dns/dnspod-ddns/internal/state"
	"github.com/auto-dns/dnspod-ddns/internal/util"
)

type App struct {
	cfg      *config.Config
	store    registry.Registry
	families []domain.Family
	state    *state.IPState
	prober   *ipaddr.Prober
	engine   *core.SyncEngine
	records  *core.RecordService
	logger   zerolog.Logger
}

// New creates a new App by wiring up all dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	families, err := cfg.App.Families()
	if err != nil {
		return nil, err
	}
	box, err := secretbox.FromBase64(cfg.Store.SealingKey)
	if err != nil {
		return nil, err
	}
	if box == nil {
		logger.Warn().Msg("No sealing key configured, secret keys are stored in the clear")
	}

	a := &App{cfg: cfg, families: families, logger: logger}
	if err := a.openStore(ctx, box); err != nil {
		return nil, err
	}

	// Provider sessions are built per account and per cycle; the HTTP client
	// and the upsert locks are shared by all of them.
	httpClient := &http.Client{}
	locks := &util.KeyedMutex{}
	providers := func(accountID int64, creds domain.Credentials) core.Provider {
		client := dnspod.NewClient(&cfg.Provider, creds, httpClient, logger)
		return dnspod.NewReconciler(accountID, client, locks, cfg.App.RecordLine, logger)
	}

	a.state = state.NewIPState()
	a.prober = ipaddr.NewProber(&cfg.Probe, nil, logger)
	a.engine = core.NewSyncEngine(logger, &cfg.App, families, a.prober, a.state, a.store, a.store, providers)
	a.records = core.NewRecordService(logger, &cfg.App, a.state, a.store, a.store, providers)
	return a, nil
}

func (a *App) openStore(ctx context.Context, box *secretbox.Box) error {
	switch a.cfg.Store.Backend {
	case config.BackendEtcd:
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   []string{a.cfg.Etcd.Endpoint()},
			DialTimeout: a.cfg.Etcd.DialTimeoutDuration(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
		locker := registry.NewSessionLocker(etcdClient, &a.cfg.Etcd, a.logger)
		a.store = registry.NewEtcdStore(etcdClient, locker, &a.cfg.Etcd, box, a.logger)
	default:
		db, err := registry.OpenSQLite(a.cfg.Store.SQLiteDSN)
		if err != nil {
			return err
		}
		s := registry.NewBunStore(db, box, a.logger)
		if err := s.Init(ctx); err != nil {
			_ = s.Close()
			return err
		}
		a.store = s
	}
	return nil
}

// Run starts the application by running the sync engine.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Msg("Application starting")
	return a.engine.Run(ctx)
}

// Refresh probes every tracked family once and caches the results.
func (a *App) Refresh(ctx context.Context) state.IPSnapshot {
	for _, f := range a.families {
		addr, err := a.prober.Probe(ctx, f)
		if err != nil {
			a.logger.Warn().Err(err).Str("family", string(f)).Msg("Probe failed")
			continue
		}
		if addr.IsValid() {
			a.state.Apply(f, addr, time.Now())
		}
	}
	return a.state.Snapshot()
}

func (a *App) Families() []domain.Family { return a.families }

func (a *App) Records() *core.RecordService { return a.records }

func (a *App) Accounts() registry.AccountStore { return a.store }

func (a *App) Engine() *core.SyncEngine { return a.engine }

func (a *App) Close() error {
	// The etcd store closes its own client.
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
