package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family is an IP address family tracked by the probe.
type Family string

const (
	FamilyV4 Family = "v4"
	FamilyV6 Family = "v6"
)

func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v4", "ipv4", "4":
		return FamilyV4, nil
	case "v6", "ipv6", "6":
		return FamilyV6, nil
	default:
		return "", fmt.Errorf("unsupported ip family %q", s)
	}
}

func (f Family) IsValid() bool {
	return f == FamilyV4 || f == FamilyV6
}

// Matches reports whether addr belongs to the family.
func (f Family) Matches(addr netip.Addr) bool {
	switch f {
	case FamilyV4:
		return addr.Is4()
	case FamilyV6:
		return addr.Is6() && !addr.Is4In6()
	}
	return false
}

// RecordType returns the address record type that carries this family.
func (f Family) RecordType() RecordType {
	if f == FamilyV6 {
		return RecordAAAA
	}
	return RecordA
}
