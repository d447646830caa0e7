package dnspod

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/tc3"
)

const (
	testSecretID  = "AKIDtest"
	testSecretKey = "secret-key"
)

// fakeDNSPod is an in-memory stand-in for the DNSPod API. It verifies the
// signature of every call it receives.
type fakeDNSPod struct {
	t *testing.T

	mu      sync.Mutex
	domains []Domain
	records map[string][]Record
	nextID  uint64
	calls   []string
	bodies  map[string][]json.RawMessage
	fail    map[string]responseError
}

func newFakeDNSPod(t *testing.T, domains ...string) *fakeDNSPod {
	f := &fakeDNSPod{
		t:       t,
		records: make(map[string][]Record),
		nextID:  100,
		bodies:  make(map[string][]json.RawMessage),
		fail:    make(map[string]responseError),
	}
	for i, d := range domains {
		f.domains = append(f.domains, Domain{DomainID: uint64(i + 1), Name: d, Status: "ENABLE"})
	}
	return f
}

func (f *fakeDNSPod) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == action {
			n++
		}
	}
	return n
}

func (f *fakeDNSPod) lastBody(action string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[action]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func (f *fakeDNSPod) addRecord(zone string, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[zone] = append(f.records[zone], rec)
}

func (f *fakeDNSPod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := r.Header.Get("X-TC-Action")

	ts, err := strconv.ParseInt(r.Header.Get("X-TC-Timestamp"), 10, 64)
	if err != nil {
		f.t.Errorf("%s: bad timestamp header %q", action, r.Header.Get("X-TC-Timestamp"))
	}
	signed := tc3.NewRequest(r.Method, action, r.URL.RawQuery, body, r.Host, "dnspod", time.Unix(ts, 0))
	want := signed.Authorization(testSecretID, tc3.Sign(signed, testSecretKey))
	if got := r.Header.Get("Authorization"); got != want {
		f.t.Errorf("%s: authorization mismatch\n got: %s\nwant: %s", action, got, want)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	f.bodies[action] = append(f.bodies[action], json.RawMessage(body))

	if e, ok := f.fail[action]; ok {
		writeResponse(w, map[string]any{"Error": e})
		return
	}

	switch action {
	case actionDescribeDomainList:
		var req describeDomainListRequest
		_ = json.Unmarshal(body, &req)
		writeResponse(w, map[string]any{
			"DomainCountInfo": domainCountInfo{AllTotal: uint64(len(f.domains))},
			"DomainList":      page(f.domains, req.Offset, req.Limit),
		})
	case actionDescribeRecordList:
		var req describeRecordListRequest
		_ = json.Unmarshal(body, &req)
		recs := f.records[req.Domain]
		if len(recs) == 0 {
			writeResponse(w, map[string]any{"Error": responseError{Code: codeNoDataOfRecord, Message: "no records"}})
			return
		}
		writeResponse(w, map[string]any{
			"RecordCountInfo": recordCountInfo{TotalCount: uint64(len(recs))},
			"RecordList":      page(recs, req.Offset, req.Limit),
		})
	case actionCreateRecord:
		var req recordRequest
		_ = json.Unmarshal(body, &req)
		f.nextID++
		f.records[req.Domain] = append(f.records[req.Domain], Record{
			RecordID: f.nextID, Name: req.SubDomain, Type: req.RecordType, Value: req.Value,
			Line: req.RecordLine, TTL: req.TTL, Status: req.Status,
		})
		writeResponse(w, map[string]any{"RecordId": f.nextID})
	case actionModifyRecord:
		var req recordRequest
		_ = json.Unmarshal(body, &req)
		recs := f.records[req.Domain]
		for i := range recs {
			if req.RecordID != nil && recs[i].RecordID == *req.RecordID {
				recs[i].Name, recs[i].Type, recs[i].Value, recs[i].TTL = req.SubDomain, req.RecordType, req.Value, req.TTL
				writeResponse(w, map[string]any{"RecordId": recs[i].RecordID})
				return
			}
		}
		writeResponse(w, map[string]any{"Error": responseError{Code: "InvalidParameter.RecordIdInvalid", Message: "record id invalid"}})
	case actionDeleteRecord:
		var req deleteRecordRequest
		_ = json.Unmarshal(body, &req)
		recs := f.records[req.Domain]
		for i := range recs {
			if recs[i].RecordID == req.RecordID {
				f.records[req.Domain] = append(recs[:i], recs[i+1:]...)
				writeResponse(w, map[string]any{})
				return
			}
		}
		writeResponse(w, map[string]any{"Error": responseError{Code: "InvalidParameter.RecordIdInvalid", Message: "record id invalid"}})
	default:
		writeResponse(w, map[string]any{"Error": responseError{Code: "InvalidAction", Message: action}})
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func writeResponse(w http.ResponseWriter, fields map[string]any) {
	fields["RequestId"] = "req-test"
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"Response": fields})
}

func testProviderConfig(endpoint string) *config.ProviderConfig {
	return &config.ProviderConfig{
		Endpoint:       endpoint,
		Host:           "dnspod.tencentcloudapi.com",
		Service:        "dnspod",
		Version:        "2021-03-23",
		RequestTimeout: 5,
		UserAgent:      "dnspod-ddns-test",
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	creds := domain.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}
	return NewClient(testProviderConfig(srv.URL), creds, srv.Client(), zerolog.Nop())
}
