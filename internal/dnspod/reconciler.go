package dnspod

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/util"
)

const (
	defaultRecordLine = "默认"
	defaultPageSize   = 3000
)

// Reconciler performs record actions for a single account. Its domain list is
// fetched once and reused for the reconciler's lifetime, so one is built per
// reconciliation session.
type Reconciler struct {
	accountID  int64
	client     *Client
	locks      *util.KeyedMutex
	recordLine string
	pageSize   int
	logger     zerolog.Logger

	mu      sync.Mutex
	domains []Domain
	loaded  bool
}

func NewReconciler(accountID int64, client *Client, locks *util.KeyedMutex, recordLine string, logger zerolog.Logger) *Reconciler {
	if locks == nil {
		locks = &util.KeyedMutex{}
	}
	if recordLine == "" {
		recordLine = defaultRecordLine
	}
	return &Reconciler{
		accountID:  accountID,
		client:     client,
		locks:      locks,
		recordLine: recordLine,
		pageSize:   defaultPageSize,
		logger:     logger.With().Int64("account_id", accountID).Logger(),
	}
}

// ListDomains returns the root domains registered with the account.
func (r *Reconciler) ListDomains(ctx context.Context) ([]Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.domains, nil
	}

	var all []Domain
	for offset := 0; ; {
		resp, err := Do[describeDomainListResponse](ctx, r.client, http.MethodPost, actionDescribeDomainList, "",
			describeDomainListRequest{Offset: offset, Limit: r.pageSize})
		if err != nil {
			if hasProviderCode(err, codeNoDataOfDomain) {
				break
			}
			return nil, err
		}
		all = append(all, resp.DomainList...)
		offset += len(resp.DomainList)
		if len(resp.DomainList) == 0 || uint64(offset) >= resp.DomainCountInfo.AllTotal {
			break
		}
	}

	r.domains = all
	r.loaded = true
	r.logger.Debug().Msgf("[reconciler] Loaded %d domains", len(all))
	return all, nil
}

// DomainRegistered reports whether fqdn is exactly one of the account's root
// domains. Subdomains of a registered domain do not match.
func (r *Reconciler) DomainRegistered(ctx context.Context, fqdn string) (bool, error) {
	domains, err := r.ListDomains(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range domains {
		if d.Name == fqdn {
			return true, nil
		}
	}
	return false, nil
}

// ListRecords returns every record of the root domain zone.
func (r *Reconciler) ListRecords(ctx context.Context, zone string) ([]Record, error) {
	var all []Record
	for offset := 0; ; {
		resp, err := Do[describeRecordListResponse](ctx, r.client, http.MethodPost, actionDescribeRecordList, "",
			describeRecordListRequest{Domain: zone, Offset: offset, Limit: r.pageSize})
		if err != nil {
			if hasProviderCode(err, codeNoDataOfRecord) {
				return all, nil
			}
			return nil, err
		}
		all = append(all, resp.RecordList...)
		offset += len(resp.RecordList)
		if len(resp.RecordList) == 0 || uint64(offset) >= resp.RecordCountInfo.TotalCount {
			return all, nil
		}
	}
}

// Upsert modifies the address record at host when one exists and creates one
// otherwise. Concurrent upserts of the same host within the process are
// serialized.
func (r *Reconciler) Upsert(ctx context.Context, host, zone string, rt domain.RecordType, value string, ttl int) (uint64, error) {
	ok, err := r.DomainRegistered(ctx, zone)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, NewDomainNotRegisteredError(zone)
	}

	unlock := r.locks.Lock(r.lockKey(host, zone))
	defer unlock()

	records, err := r.ListRecords(ctx, zone)
	if err != nil {
		return 0, err
	}
	target, ok := matchAddressRecord(records, host, rt)
	if !ok {
		return r.Create(ctx, host, zone, rt, value, ttl)
	}
	if err := r.Modify(ctx, target.RecordID, host, zone, rt, value, ttl); err != nil {
		return 0, err
	}
	return target.RecordID, nil
}

// matchAddressRecord picks the record at host with type rt, falling back to
// the first address record of the other type.
func matchAddressRecord(records []Record, host string, rt domain.RecordType) (Record, bool) {
	var fallback *Record
	for i := range records {
		rec := &records[i]
		if rec.Name != host || !domain.RecordType(rec.Type).IsAddress() {
			continue
		}
		if domain.RecordType(rec.Type) == rt {
			return *rec, true
		}
		if fallback == nil {
			fallback = rec
		}
	}
	if fallback == nil {
		return Record{}, false
	}
	return *fallback, true
}

func (r *Reconciler) Create(ctx context.Context, host, zone string, rt domain.RecordType, value string, ttl int) (uint64, error) {
	resp, err := Do[recordIDResponse](ctx, r.client, http.MethodPost, actionCreateRecord, "", r.recordBody(host, zone, rt, value, ttl, nil))
	if err != nil {
		return 0, err
	}
	r.logger.Info().Msgf("[reconciler] Created record %d: [%s] %s -> %s", resp.RecordID, rt, domain.JoinFQDN(host, zone), value)
	return resp.RecordID, nil
}

func (r *Reconciler) Modify(ctx context.Context, recordID uint64, host, zone string, rt domain.RecordType, value string, ttl int) error {
	id := recordID
	if _, err := Do[recordIDResponse](ctx, r.client, http.MethodPost, actionModifyRecord, "", r.recordBody(host, zone, rt, value, ttl, &id)); err != nil {
		return err
	}
	r.logger.Info().Msgf("[reconciler] Modified record %d: [%s] %s -> %s", recordID, rt, domain.JoinFQDN(host, zone), value)
	return nil
}

func (r *Reconciler) Delete(ctx context.Context, zone string, recordID uint64) error {
	if err := r.client.DoRequest(ctx, http.MethodPost, actionDeleteRecord, "", deleteRecordRequest{Domain: zone, RecordID: recordID}, nil); err != nil {
		return err
	}
	r.logger.Info().Msgf("[reconciler] Deleted record %d in %s", recordID, zone)
	return nil
}

func (r *Reconciler) recordBody(host, zone string, rt domain.RecordType, value string, ttl int, recordID *uint64) recordRequest {
	return recordRequest{
		Domain:     zone,
		SubDomain:  host,
		RecordType: string(rt),
		RecordLine: r.recordLine,
		Value:      value,
		TTL:        ttl,
		Status:     statusEnable,
		RecordID:   recordID,
	}
}

func (r *Reconciler) lockKey(host, zone string) string {
	return fmt.Sprintf("%d|%s|%s", r.accountID, strings.ToLower(host), strings.ToLower(zone))
}
