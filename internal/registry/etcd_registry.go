package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/secretbox"
	"github.com/auto-dns/dnspod-ddns/internal/util"
)

type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Close() error
}

const (
	defaultLockTimeout = 2 * time.Second
	lockAccounts       = "accounts"
	lockRecords        = "records"
)

// EtcdStore keeps accounts and managed records in etcd so several daemons can
// share them.
type EtcdStore struct {
	client etcdClient
	locker Locker
	local  util.KeyedMutex
	cfg    *config.EtcdConfig
	keys   etcdKeys
	box    *secretbox.Box
	logger zerolog.Logger
	now    func() time.Time
}

func NewEtcdStore(client etcdClient, locker Locker, cfg *config.EtcdConfig, box *secretbox.Box, logger zerolog.Logger) *EtcdStore {
	return &EtcdStore{
		client: client,
		locker: locker,
		cfg:    cfg,
		keys:   newEtcdKeys(cfg.PathPrefix),
		box:    box,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (es *EtcdStore) CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error) {
	if acct.Name == "" || acct.SecretID == "" || acct.SecretKey == "" {
		return domain.Account{}, errors.New("registry: account name, secret id and secret key are required")
	}
	sealed, err := es.box.Seal(acct.SecretKey, acct.SecretID)
	if err != nil {
		return domain.Account{}, err
	}

	var created domain.Account
	err = es.LockTransaction(ctx, []string{lockAccounts}, func() error {
		existing, err := es.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range existing {
			if a.Name == acct.Name {
				return ErrDuplicateAccount
			}
		}
		id, err := es.nextID(ctx, "account")
		if err != nil {
			return err
		}
		wire := etcdAccount{ID: id, Name: acct.Name, SecretID: acct.SecretID, SecretKey: sealed, Created: es.now()}
		value, err := marshalEtcdAccount(wire)
		if err != nil {
			return err
		}
		if _, err := es.client.Put(ctx, es.keys.account(id), value); err != nil {
			return err
		}
		created = domain.Account{ID: id, Name: wire.Name, SecretID: wire.SecretID, CreatedAt: wire.Created}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	es.logger.Info().Msgf("[etcd_registry] Created account %d (%s)", created.ID, created.Name)
	return created, nil
}

// ListAccounts returns accounts without their secret keys.
func (es *EtcdStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	resp, err := es.client.Get(ctx, es.keys.accounts(), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	var out []domain.Account
	for _, kv := range resp.Kvs {
		wire, err := unmarshalEtcdAccount(kv.Value)
		if err != nil {
			es.logger.Error().Err(err).Msgf("[etcd_registry] Failed to parse key: %s", kv.Key)
			continue
		}
		out = append(out, domain.Account{ID: wire.ID, Name: wire.Name, SecretID: wire.SecretID, CreatedAt: wire.Created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (es *EtcdStore) Credentials(ctx context.Context, accountID int64) (domain.Credentials, error) {
	resp, err := es.client.Get(ctx, es.keys.account(accountID))
	if err != nil {
		return domain.Credentials{}, err
	}
	if len(resp.Kvs) == 0 {
		return domain.Credentials{}, ErrNotFound
	}
	wire, err := unmarshalEtcdAccount(resp.Kvs[0].Value)
	if err != nil {
		return domain.Credentials{}, err
	}
	key, err := es.box.Open(wire.SecretKey, wire.SecretID)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("account %d: %w", accountID, err)
	}
	return domain.Credentials{SecretID: wire.SecretID, SecretKey: key}, nil
}

// List retrieves all managed records stored under the configured prefix.
func (es *EtcdStore) List(ctx context.Context) ([]domain.ManagedRecord, error) {
	resp, err := es.client.Get(ctx, es.keys.records(), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	var out []domain.ManagedRecord
	for _, kv := range resp.Kvs {
		keyStr := string(kv.Key)
		rec, err := unmarshalEtcdRecord(kv.Value)
		if err != nil {
			es.logger.Error().Err(err).Msgf("[etcd_registry] Failed to parse key: %s", keyStr)
			continue
		}
		if fqdn := fqdnFromKey(es.keys.accountRecords(rec.AccountID), keyStr); fqdn != strings.ToLower(rec.FQDN()) {
			es.logger.Warn().Msgf("[etcd_registry] Key %s does not match record %s, skipping", keyStr, rec.FQDN())
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (es *EtcdStore) Get(ctx context.Context, id int64) (domain.ManagedRecord, error) {
	key, err := es.recordKey(ctx, id)
	if err != nil {
		return domain.ManagedRecord{}, err
	}
	resp, err := es.client.Get(ctx, key)
	if err != nil {
		return domain.ManagedRecord{}, err
	}
	if len(resp.Kvs) == 0 {
		return domain.ManagedRecord{}, ErrNotFound
	}
	return unmarshalEtcdRecord(resp.Kvs[0].Value)
}

func (es *EtcdStore) Create(ctx context.Context, rec domain.ManagedRecord) (domain.ManagedRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.ManagedRecord{}, err
	}
	err := es.LockTransaction(ctx, []string{lockRecords}, func() error {
		if err := es.ensureUnique(ctx, rec, 0); err != nil {
			return err
		}
		id, err := es.nextID(ctx, "record")
		if err != nil {
			return err
		}
		now := es.now()
		rec.ID, rec.CreatedAt, rec.UpdatedAt = id, now, now
		return es.write(ctx, "", rec)
	})
	if err != nil {
		return domain.ManagedRecord{}, err
	}
	es.logger.Debug().Msgf("[etcd_registry] Created record %d: %s", rec.ID, rec.Render())
	return rec, nil
}

func (es *EtcdStore) Update(ctx context.Context, id int64, rec domain.ManagedRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return es.LockTransaction(ctx, []string{lockRecords}, func() error {
		existing, err := es.Get(ctx, id)
		if err != nil {
			return err
		}
		oldKey, err := es.recordKey(ctx, id)
		if err != nil {
			return err
		}
		if err := es.ensureUnique(ctx, rec, id); err != nil {
			return err
		}
		rec.ID, rec.CreatedAt, rec.UpdatedAt = id, existing.CreatedAt, es.now()
		return es.write(ctx, oldKey, rec)
	})
}

func (es *EtcdStore) Delete(ctx context.Context, id int64) error {
	return es.LockTransaction(ctx, []string{lockRecords}, func() error {
		key, err := es.recordKey(ctx, id)
		if err != nil {
			return err
		}
		if _, err := es.client.Txn(ctx).
			Then(clientv3.OpDelete(key), clientv3.OpDelete(es.keys.recordIndex(id))).
			Commit(); err != nil {
			return err
		}
		es.logger.Info().Msgf("[etcd_registry] Deleted key %s", key)
		return nil
	})
}

// write stores rec and its id index in one transaction, removing oldKey when
// the record moved.
func (es *EtcdStore) write(ctx context.Context, oldKey string, rec domain.ManagedRecord) error {
	value, err := marshalEtcdRecord(rec)
	if err != nil {
		return err
	}
	key := es.keys.record(recordKeyParts{accountID: rec.AccountID, fqdn: rec.FQDN(), id: rec.ID})
	var ops []clientv3.Op
	if oldKey != "" && oldKey != key {
		ops = append(ops, clientv3.OpDelete(oldKey))
	}
	ops = append(ops, clientv3.OpPut(key, value), clientv3.OpPut(es.keys.recordIndex(rec.ID), key))
	_, err = es.client.Txn(ctx).Then(ops...).Commit()
	return err
}

func (es *EtcdStore) recordKey(ctx context.Context, id int64) (string, error) {
	resp, err := es.client.Get(ctx, es.keys.recordIndex(id))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

func (es *EtcdStore) ensureUnique(ctx context.Context, rec domain.ManagedRecord, excludeID int64) error {
	resp, err := es.client.Get(ctx, es.keys.recordBase(rec.AccountID, rec.FQDN()), clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		id, ok := idFromKey(string(kv.Key))
		if !ok || id == excludeID {
			continue
		}
		other, err := unmarshalEtcdRecord(kv.Value)
		if err != nil {
			es.logger.Warn().Err(err).Msgf("[etcd_registry] Could not parse key %s", kv.Key)
			continue
		}
		if strings.EqualFold(other.Host, rec.Host) && strings.EqualFold(other.Domain, rec.Domain) {
			return ErrDuplicateRecord
		}
	}
	return nil
}

// nextID allocates the next id of a kind. Callers hold the matching lock.
func (es *EtcdStore) nextID(ctx context.Context, kind string) (int64, error) {
	key := es.keys.counter(kind)
	resp, err := es.client.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	var last int64
	if len(resp.Kvs) > 0 {
		last, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
		}
	}
	next := last + 1
	if _, err := es.client.Put(ctx, key, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}

// LockTransaction holds the named locks, taken in sorted order, while fn
// runs. Every lock is also held in process because etcd mutexes of one
// session do not exclude each other.
func (es *EtcdStore) LockTransaction(ctx context.Context, keys []string, fn func() error) error {
	names := sortedUnique(keys)
	for _, name := range names {
		unlock := es.local.Lock(name)
		defer unlock()
	}

	timeout := time.Duration(es.cfg.LockTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var releases []func(context.Context) error
	defer func() { es.release(ctx, releases) }()
	for _, name := range names {
		release, err := es.locker.Acquire(lockCtx, es.keys.lock(name))
		if err != nil {
			return fmt.Errorf("failed to acquire lock on %s: %w", name, err)
		}
		releases = append(releases, release)
	}

	return fn()
}

// release drops the locks in reverse order.
func (es *EtcdStore) release(ctx context.Context, releases []func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](ctx); err != nil {
			es.logger.Warn().Err(err).Msg("[etcd_registry] Failed to release lock")
		}
	}
}

func (es *EtcdStore) Close() error {
	if err := es.locker.Close(); err != nil {
		es.logger.Warn().Err(err).Msg("[etcd_registry] Failed to close lock session")
	}
	return es.client.Close()
}
