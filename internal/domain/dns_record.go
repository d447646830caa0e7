package domain

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

type RecordType string

const (
	RecordA    RecordType = "A"
	RecordAAAA RecordType = "AAAA"
)

// ParseRecordType accepts a case-insensitive A or AAAA.
func ParseRecordType(s string) (RecordType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return RecordA, nil
	case "AAAA":
		return RecordAAAA, nil
	default:
		return "", fmt.Errorf("unsupported record type %q", s)
	}
}

// Family returns the IP family whose address this record type carries.
func (t RecordType) Family() (Family, bool) {
	switch t {
	case RecordA:
		return FamilyV4, true
	case RecordAAAA:
		return FamilyV6, true
	}
	return "", false
}

func (t RecordType) IsAddress() bool { return t == RecordA || t == RecordAAAA }

// ManagedRecord is an address record tracked for automatic reconciliation.
type ManagedRecord struct {
	ID               int64
	AccountID        int64
	Host             string
	Domain           string
	Type             RecordType
	ProviderRecordID uint64
	TTL              int
	Value            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FQDN joins host and domain; the apex host "@" yields the bare domain.
func (r ManagedRecord) FQDN() string {
	return JoinFQDN(r.Host, r.Domain)
}

func (r ManagedRecord) Render() string {
	if r.Value == "" {
		return fmt.Sprintf("[%s] %s -> <no value>", r.Type, r.FQDN())
	}
	return fmt.Sprintf("[%s] %s -> %s", r.Type, r.FQDN(), r.Value)
}

// Key identifies the record within its account.
func (r ManagedRecord) Key() string {
	return fmt.Sprintf("%d|%s|%s", r.AccountID, strings.ToLower(r.Host), strings.ToLower(r.Domain))
}

// Validate checks the fields a store needs before persisting the record.
func (r ManagedRecord) Validate() error {
	if r.AccountID <= 0 {
		return fmt.Errorf("record %s: account id required", r.FQDN())
	}
	if r.Host == "" {
		return fmt.Errorf("record %s: host required", r.FQDN())
	}
	if r.Host != "@" && !isValidHostname(r.Host) {
		return fmt.Errorf("invalid host: %s", r.Host)
	}
	if !isValidHostname(r.Domain) {
		return fmt.Errorf("invalid domain: %s", r.Domain)
	}
	if !r.Type.IsAddress() {
		return fmt.Errorf("unsupported record type %q", r.Type)
	}
	if r.TTL <= 0 {
		return fmt.Errorf("record %s: ttl must be positive", r.FQDN())
	}
	if r.Value != "" {
		if err := ValidateValue(r.Type, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateValue checks that value is an address of the family the record type carries.
func ValidateValue(t RecordType, value string) error {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return fmt.Errorf("invalid IP address: %s", value)
	}
	switch t {
	case RecordA:
		if !addr.Is4() {
			return fmt.Errorf("invalid IPv4: %s", value)
		}
	case RecordAAAA:
		if !addr.Is6() || addr.Is4In6() {
			return fmt.Errorf("invalid IPv6: %s", value)
		}
	default:
		return fmt.Errorf("unsupported record type %q", t)
	}
	return nil
}

func JoinFQDN(host, domain string) string {
	if host == "" || host == "@" {
		return domain
	}
	return host + "." + domain
}

var hostnameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_*](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9_](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func isValidHostname(h string) bool {
	return len(h) > 0 && len(h) <= 255 && hostnameRegexp.MatchString(h)
}
