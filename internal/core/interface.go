package core

import (
	"context"
	"net/netip"
	"time"

	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

type prober interface {
	Probe(ctx context.Context, family domain.Family) (netip.Addr, error)
}

type ipState interface {
	ShouldProbe(family domain.Family, now time.Time, frequency time.Duration) bool
	Apply(family domain.Family, addr netip.Addr, now time.Time) bool
	Get(family domain.Family) (netip.Addr, bool)
}

type recordStore interface {
	List(ctx context.Context) ([]domain.ManagedRecord, error)
	Get(ctx context.Context, id int64) (domain.ManagedRecord, error)
	Create(ctx context.Context, rec domain.ManagedRecord) (domain.ManagedRecord, error)
	Update(ctx context.Context, id int64, rec domain.ManagedRecord) error
	Delete(ctx context.Context, id int64) error
}

type credentialLookup interface {
	Credentials(ctx context.Context, accountID int64) (domain.Credentials, error)
}

type locker interface {
	LockTransaction(ctx context.Context, keys []string, fn func() error) error
}

// withStoreLock runs fn under the store's named locks when it has any.
func withStoreLock(ctx context.Context, store recordStore, keys []string, fn func() error) error {
	if l, ok := store.(locker); ok {
		return l.LockTransaction(ctx, keys, fn)
	}
	return fn()
}

// Provider is a reconciliation session against the DNS provider for one account.
type Provider interface {
	ListDomains(ctx context.Context) ([]dnspod.Domain, error)
	Upsert(ctx context.Context, host, zone string, rt domain.RecordType, value string, ttl int) (uint64, error)
	Modify(ctx context.Context, recordID uint64, host, zone string, rt domain.RecordType, value string, ttl int) error
	Delete(ctx context.Context, zone string, recordID uint64) error
}

// ProviderFactory opens a provider session for an account.
type ProviderFactory func(accountID int64, creds domain.Credentials) Provider
