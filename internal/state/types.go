package state

import (
	"net/netip"
	"time"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

// IPSnapshot is a point-in-time copy of the cached public addresses. A zero
// address means the family has not been discovered yet.
type IPSnapshot struct {
	IPv4          netip.Addr
	IPv4UpdatedAt time.Time
	IPv6          netip.Addr
	IPv6UpdatedAt time.Time
}

// Get returns the address and update time of family.
func (s IPSnapshot) Get(family domain.Family) (netip.Addr, time.Time) {
	if family == domain.FamilyV6 {
		return s.IPv6, s.IPv6UpdatedAt
	}
	return s.IPv4, s.IPv4UpdatedAt
}

type familyState struct {
	addr      netip.Addr
	updatedAt time.Time
}
