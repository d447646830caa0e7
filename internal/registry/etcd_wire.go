package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

type etcdRecord struct {
	ID               int64             `json:"id"`
	AccountID        int64             `json:"account_id"`
	Host             string            `json:"host"`
	Domain           string            `json:"domain"`
	RecordType       domain.RecordType `json:"record_type"`
	ProviderRecordID uint64            `json:"provider_record_id"`
	TTL              int               `json:"ttl"`
	Value            string            `json:"value"`
	Created          time.Time         `json:"created"`
	Updated          time.Time         `json:"updated"`
}

type etcdAccount struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SecretID  string    `json:"secret_id"`
	SecretKey string    `json:"secret_key"`
	Created   time.Time `json:"created"`
}

func marshalEtcdRecord(rec domain.ManagedRecord) (string, error) {
	wire := etcdRecord{
		ID:               rec.ID,
		AccountID:        rec.AccountID,
		Host:             rec.Host,
		Domain:           rec.Domain,
		RecordType:       rec.Type,
		ProviderRecordID: rec.ProviderRecordID,
		TTL:              rec.TTL,
		Value:            rec.Value,
		Created:          rec.CreatedAt,
		Updated:          rec.UpdatedAt,
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEtcdRecord(raw []byte) (domain.ManagedRecord, error) {
	var wire etcdRecord
	if err := json.Unmarshal(raw, &wire); err != nil {
		return domain.ManagedRecord{}, fmt.Errorf("decode etcd value: %w", err)
	}
	if !wire.RecordType.IsAddress() {
		return domain.ManagedRecord{}, fmt.Errorf("unknown record type: %s", wire.RecordType)
	}
	return domain.ManagedRecord{
		ID:               wire.ID,
		AccountID:        wire.AccountID,
		Host:             wire.Host,
		Domain:           wire.Domain,
		Type:             wire.RecordType,
		ProviderRecordID: wire.ProviderRecordID,
		TTL:              wire.TTL,
		Value:            wire.Value,
		CreatedAt:        wire.Created,
		UpdatedAt:        wire.Updated,
	}, nil
}

func marshalEtcdAccount(a etcdAccount) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEtcdAccount(raw []byte) (etcdAccount, error) {
	var wire etcdAccount
	if err := json.Unmarshal(raw, &wire); err != nil {
		return etcdAccount{}, fmt.Errorf("decode etcd value: %w", err)
	}
	return wire, nil
}
