package ipaddr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

const (
	defaultLookupDomain = "test-ipv6.com"
	defaultTimeout      = 10 * time.Second
	maxLookupBytes      = 64 << 10
)

type lookupResponse struct {
	IP      string `json:"ip"`
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	ASN     string `json:"asn"`
}

// Prober discovers the caller's public address per family.
type Prober struct {
	cfg    *config.ProbeConfig
	client *http.Client
	logger zerolog.Logger
}

// NewProber builds a prober. A nil httpClient gets a client that never uses a
// proxy, so the lookup sees the host's own egress address.
func NewProber(cfg *config.ProbeConfig, httpClient *http.Client, logger zerolog.Logger) *Prober {
	if httpClient == nil {
		timeout := cfg.TimeoutDuration()
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		httpClient = &http.Client{Transport: transport, Timeout: timeout}
	}
	return &Prober{cfg: cfg, client: httpClient, logger: logger}
}

// URL returns the lookup endpoint for family.
func (p *Prober) URL(family domain.Family) string {
	switch family {
	case domain.FamilyV4:
		if p.cfg.IPv4URL != "" {
			return p.cfg.IPv4URL
		}
	case domain.FamilyV6:
		if p.cfg.IPv6URL != "" {
			return p.cfg.IPv6URL
		}
	}
	return LookupURL(p.cfg.LookupDomain, family)
}

// LookupURL renders the test-ipv6 style lookup URL for a lookup domain.
func LookupURL(lookupDomain string, family domain.Family) string {
	if lookupDomain == "" {
		lookupDomain = defaultLookupDomain
	}
	if family == domain.FamilyV6 {
		return fmt.Sprintf("https://ipv6.lookup.%s/ip/?asn=1&testdomain=%s&testname=test_asn6", lookupDomain, lookupDomain)
	}
	return fmt.Sprintf("https://ipv4.lookup.%s/ip/?asn=1&testdomain=%s&testname=test_asn4", lookupDomain, lookupDomain)
}

// Probe asks the lookup service for the public address of family. An address
// of the other family yields the zero Addr and no error, meaning no update.
func (p *Prober) Probe(ctx context.Context, family domain.Family) (netip.Addr, error) {
	if !family.IsValid() {
		return netip.Addr{}, fmt.Errorf("unsupported ip family %q", family)
	}
	url := p.URL(family)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("probe %s: %w", family, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBytes))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("probe %s: read body: %w", family, err)
	}
	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("probe %s: http status code: %d", family, resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return netip.Addr{}, fmt.Errorf("probe %s: decode response: %w", family, err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(lr.IP))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("probe %s: invalid address %q: %w", family, lr.IP, err)
	}
	addr = addr.Unmap()
	if !family.Matches(addr) {
		p.logger.Warn().Msgf("[probe] Lookup for %s returned %s address %s, ignoring", family, otherFamily(addr), addr)
		return netip.Addr{}, nil
	}

	p.logger.Debug().Str("family", string(family)).Str("asn", lr.ASN).Msgf("[probe] Public address is %s", addr)
	return addr, nil
}

func otherFamily(addr netip.Addr) string {
	if addr.Is4() {
		return string(domain.FamilyV4)
	}
	return string(domain.FamilyV6)
}
