package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/auto-dns/dnspod-ddns/internal/config"
)

const defaultLockTTL = 5

// Locker hands out cross-process mutexes named by etcd key prefixes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
	Close() error
}

// SessionLocker takes etcd mutexes on a single concurrency session. The
// session keeps its lease alive for as long as it is open, and unlocking a
// mutex deletes only the holder's own key. Mutexes of one session do not
// exclude each other, so callers serialize in process first.
type SessionLocker struct {
	client *clientv3.Client
	ttl    int
	logger zerolog.Logger

	mu      sync.Mutex
	session *concurrency.Session
}

func NewSessionLocker(client *clientv3.Client, cfg *config.EtcdConfig, logger zerolog.Logger) *SessionLocker {
	ttl := int(cfg.LockTTL)
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &SessionLocker{client: client, ttl: ttl, logger: logger}
}

// currentSession returns the open session, replacing one whose lease was lost.
func (l *SessionLocker) currentSession() (*concurrency.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		select {
		case <-l.session.Done():
			l.logger.Warn().Msgf("[etcd_lock] Lease %x expired, opening a new session", l.session.Lease())
			l.session = nil
		default:
			return l.session, nil
		}
	}
	s, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl), concurrency.WithContext(context.Background()))
	if err != nil {
		return nil, fmt.Errorf("open lock session: %w", err)
	}
	l.session = s
	return s, nil
}

func (l *SessionLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	s, err := l.currentSession()
	if err != nil {
		return nil, err
	}
	m := concurrency.NewMutex(s, key)
	if err := m.Lock(ctx); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		select {
		case <-s.Done():
			l.logger.Error().Msgf("[etcd_lock] Lease for %s was lost while the lock was held", key)
		default:
		}
		return m.Unlock(ctx)
	}, nil
}

func (l *SessionLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}
