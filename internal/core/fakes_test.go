package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

var errNotFound = errors.New("not found")

type fakeProber struct {
	mu     sync.Mutex
	addrs  map[domain.Family]netip.Addr
	errs   map[domain.Family]error
	calls  map[domain.Family]int
	onCall func(domain.Family)
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		addrs: make(map[domain.Family]netip.Addr),
		errs:  make(map[domain.Family]error),
		calls: make(map[domain.Family]int),
	}
}

func (p *fakeProber) set(f domain.Family, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs[f] = netip.MustParseAddr(addr)
}

func (p *fakeProber) Probe(ctx context.Context, f domain.Family) (netip.Addr, error) {
	p.mu.Lock()
	p.calls[f]++
	addr, err, hook := p.addrs[f], p.errs[f], p.onCall
	p.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return addr, err
}

func (p *fakeProber) count(f domain.Family) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[f]
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[int64]domain.ManagedRecord
	nextID    int64
	lists     int
	updates   []int64
	updateErr map[int64]error
	createErr error
	events    *[]string
}

func newFakeStore(recs ...domain.ManagedRecord) *fakeStore {
	s := &fakeStore{records: make(map[int64]domain.ManagedRecord), updateErr: make(map[int64]error)}
	for _, r := range recs {
		s.nextID++
		if r.ID == 0 {
			r.ID = s.nextID
		}
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) List(ctx context.Context) ([]domain.ManagedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := make([]domain.ManagedRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (domain.ManagedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return domain.ManagedRecord{}, errNotFound
	}
	return r, nil
}

func (s *fakeStore) Create(ctx context.Context, rec domain.ManagedRecord) (domain.ManagedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return domain.ManagedRecord{}, s.createErr
	}
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeStore) Update(ctx context.Context, id int64, rec domain.ManagedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, id)
	s.record(fmt.Sprintf("store.update %d", id))
	if err := s.updateErr[id]; err != nil {
		return err
	}
	if _, ok := s.records[id]; !ok {
		return errNotFound
	}
	s.records[id] = rec
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("store.delete %d", id))
	if _, ok := s.records[id]; !ok {
		return errNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) record(ev string) {
	if s.events != nil {
		*s.events = append(*s.events, ev)
	}
}

type fakeCreds struct {
	mu      sync.Mutex
	lookups map[int64]int
	missing map[int64]bool
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{lookups: make(map[int64]int), missing: make(map[int64]bool)}
}

func (c *fakeCreds) Credentials(ctx context.Context, accountID int64) (domain.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[accountID]++
	if c.missing[accountID] {
		return domain.Credentials{}, errNotFound
	}
	return domain.Credentials{SecretID: fmt.Sprintf("AKID%d", accountID), SecretKey: "key"}, nil
}

type modifyCall struct {
	AccountID int64
	RecordID  uint64
	Host      string
	Zone      string
	Type      domain.RecordType
	Value     string
	TTL       int
}

// fakeProvider records calls made by all sessions it opens.
type fakeProvider struct {
	mu        sync.Mutex
	opened    map[int64]int
	modifies  []modifyCall
	upserts   []modifyCall
	deletes   []uint64
	modifyErr map[uint64]error
	deleteErr error
	nextID    uint64
	domains   []dnspod.Domain
	events    *[]string
	onModify  func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{opened: make(map[int64]int), modifyErr: make(map[uint64]error), nextID: 500}
}

func (p *fakeProvider) factory(accountID int64, creds domain.Credentials) Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened[accountID]++
	return &fakeSession{p: p, accountID: accountID}
}

type fakeSession struct {
	p         *fakeProvider
	accountID int64
}

func (s *fakeSession) ListDomains(ctx context.Context) ([]dnspod.Domain, error) {
	return s.p.domains, nil
}

func (s *fakeSession) Upsert(ctx context.Context, host, zone string, rt domain.RecordType, value string, ttl int) (uint64, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.nextID++
	s.p.upserts = append(s.p.upserts, modifyCall{s.accountID, s.p.nextID, host, zone, rt, value, ttl})
	return s.p.nextID, nil
}

func (s *fakeSession) Modify(ctx context.Context, recordID uint64, host, zone string, rt domain.RecordType, value string, ttl int) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.modifies = append(s.p.modifies, modifyCall{s.accountID, recordID, host, zone, rt, value, ttl})
	if s.p.events != nil {
		*s.p.events = append(*s.p.events, fmt.Sprintf("provider.modify %d", recordID))
	}
	if s.p.onModify != nil {
		s.p.onModify()
	}
	return s.p.modifyErr[recordID]
}

func (s *fakeSession) Delete(ctx context.Context, zone string, recordID uint64) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.events != nil {
		*s.p.events = append(*s.p.events, fmt.Sprintf("provider.delete %d", recordID))
	}
	if s.p.deleteErr != nil {
		return s.p.deleteErr
	}
	s.p.deletes = append(s.p.deletes, recordID)
	return nil
}
