package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/auto-dns/dnspod-ddns/internal/util"
)

func keyBaseForFQDN(prefix, fqdn string) string {
	prefix = strings.TrimRight(prefix, "/")
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(fqdn)), ".")
	parts := strings.Split(trimmed, ".")
	parts = util.Reverse(parts)
	return fmt.Sprintf("%s/%s", prefix, strings.Join(parts, "/"))
}

// From a full etcd key to FQDN (handles trailing xNN segment)
func fqdnFromKey(prefix, key string) string {
	prefix = strings.TrimRight(prefix, "/")
	path := strings.TrimPrefix(key, prefix)
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")
	if n := len(parts); n > 0 && strings.HasPrefix(parts[n-1], "x") {
		parts = parts[:n-1]
	}
	parts = util.Reverse(parts)
	return strings.Join(parts, ".")
}

// idFromKey parses the trailing xNN segment of a record key.
func idFromKey(key string) (int64, bool) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 || !strings.HasPrefix(key[idx+1:], "x") {
		return 0, false
	}
	id, err := strconv.ParseInt(key[idx+2:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type etcdKeys struct {
	prefix string
}

func newEtcdKeys(prefix string) etcdKeys {
	return etcdKeys{prefix: strings.TrimRight(prefix, "/")}
}

func (k etcdKeys) accounts() string { return k.prefix + "/accounts/" }

func (k etcdKeys) account(id int64) string { return fmt.Sprintf("%s%d", k.accounts(), id) }

func (k etcdKeys) records() string { return k.prefix + "/records/" }

func (k etcdKeys) accountRecords(accountID int64) string {
	return fmt.Sprintf("%s%d", k.records(), accountID)
}

// record keys look like <prefix>/records/<account>/com/example/www/x<id>.
func (k etcdKeys) record(rec recordKeyParts) string {
	return fmt.Sprintf("%s/x%d", keyBaseForFQDN(k.accountRecords(rec.accountID), rec.fqdn), rec.id)
}

func (k etcdKeys) recordBase(accountID int64, fqdn string) string {
	return keyBaseForFQDN(k.accountRecords(accountID), fqdn) + "/"
}

func (k etcdKeys) recordIndex(id int64) string { return fmt.Sprintf("%s/record_ids/%d", k.prefix, id) }

func (k etcdKeys) counter(name string) string { return k.prefix + "/meta/next_" + name + "_id" }

func (k etcdKeys) lock(name string) string { return k.prefix + "/locks/" + name }

type recordKeyParts struct {
	accountID int64
	fqdn      string
	id        int64
}
