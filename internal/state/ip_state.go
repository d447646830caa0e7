package state

import (
	"net/netip"
	"sync"
	"time"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

// IPState caches the latest public address per family. Reads take the read
// lock and never block each other.
type IPState struct {
	mu sync.RWMutex
	v4 familyState
	v6 familyState
}

func NewIPState() *IPState {
	return &IPState{}
}

func (s *IPState) family(f domain.Family) *familyState {
	if f == domain.FamilyV6 {
		return &s.v6
	}
	return &s.v4
}

// ShouldProbe reports whether at least frequency has passed since family last
// changed. A family that never changed is always due.
func (s *IPState) ShouldProbe(f domain.Family, now time.Time, frequency time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return shouldProbe(s.family(f).updatedAt, now, frequency)
}

// Apply stores addr for family when it differs from the cached address and
// reports whether it did. The value and its timestamp change together.
func (s *IPState) Apply(f domain.Family, addr netip.Addr, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := s.family(f)
	if !changed(fs.addr, addr) {
		return false
	}
	fs.addr = addr
	if now.After(fs.updatedAt) {
		fs.updatedAt = now
	}
	return true
}

// Get returns the cached address of family and whether one is known.
func (s *IPState) Get(f domain.Family) (netip.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr := s.family(f).addr
	return addr, addr.IsValid()
}

func (s *IPState) Snapshot() IPSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IPSnapshot{
		IPv4:          s.v4.addr,
		IPv4UpdatedAt: s.v4.updatedAt,
		IPv6:          s.v6.addr,
		IPv6UpdatedAt: s.v6.updatedAt,
	}
}

func shouldProbe(last, now time.Time, frequency time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= frequency
}

// changed treats an invalid probe result as no update.
func changed(cached, probed netip.Addr) bool {
	return probed.IsValid() && probed != cached
}
