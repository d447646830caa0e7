package dnspod

import "strings"

// Domain types select how many trailing labels form the root domain.
const (
	DomainTypeSingle   = 1 // example.com, example.cn
	DomainTypeCompound = 2 // example.com.cn, example.net.cn
)

// HostnameFromFQDN returns the sub-label part of fqdn relative to its root
// domain. Two labels yield the apex "@" and three labels always yield the
// first label, regardless of domainType.
func HostnameFromFQDN(fqdn string, domainType int) (string, bool) {
	fqdn = strings.TrimSuffix(strings.TrimSpace(fqdn), ".")
	if fqdn == "" {
		return "", false
	}
	labels := strings.Split(fqdn, ".")
	switch n := len(labels); {
	case n <= 1:
		return "", false
	case n == 2:
		return "@", true
	case n == 3:
		return labels[0], true
	default:
		keep := 2
		if domainType == DomainTypeCompound {
			keep = 3
		}
		return strings.Join(labels[:n-keep], "."), true
	}
}

// SplitFQDN returns the host and root domain that together render fqdn.
func SplitFQDN(fqdn string, domainType int) (host, root string, ok bool) {
	fqdn = strings.TrimSuffix(strings.TrimSpace(fqdn), ".")
	host, ok = HostnameFromFQDN(fqdn, domainType)
	if !ok {
		return "", "", false
	}
	if host == "@" {
		return host, fqdn, true
	}
	return host, strings.TrimPrefix(fqdn, host+"."), true
}
