package registry

import (
	"context"
	"errors"
	"slices"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

var (
	ErrNotFound         = errors.New("registry: not found")
	ErrDuplicateRecord  = errors.New("registry: a record for this host already exists")
	ErrDuplicateAccount = errors.New("registry: an account with this name already exists")
)

// RecordStore persists managed records.
type RecordStore interface {
	List(ctx context.Context) ([]domain.ManagedRecord, error)
	Get(ctx context.Context, id int64) (domain.ManagedRecord, error)
	Create(ctx context.Context, rec domain.ManagedRecord) (domain.ManagedRecord, error)
	Update(ctx context.Context, id int64, rec domain.ManagedRecord) error
	Delete(ctx context.Context, id int64) error
}

// AccountStore persists provider accounts and resolves their credentials.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	Credentials(ctx context.Context, accountID int64) (domain.Credentials, error)
}

type Registry interface {
	RecordStore
	AccountStore
	LockTransaction(ctx context.Context, keys []string, fn func() error) error
	Close() error
}

// sortedUnique orders lock names so every holder takes them in the same order.
func sortedUnique(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
