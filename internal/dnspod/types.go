package dnspod

import (
	"encoding/json"
	"fmt"
)

const (
	statusEnable = "ENABLE"

	actionDescribeDomainList = "DescribeDomainList"
	actionDescribeRecordList = "DescribeRecordList"
	actionCreateRecord       = "CreateRecord"
	actionModifyRecord       = "ModifyRecord"
	actionDeleteRecord       = "DeleteRecord"
)

// envelope is the outer shape of every API 3.0 response.
type envelope struct {
	Response json.RawMessage `json:"Response"`
}

type responseMeta struct {
	Error     *responseError `json:"Error,omitempty"`
	RequestID string         `json:"RequestId"`
}

type responseError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// Domain is a root domain registered with the account.
type Domain struct {
	DomainID    uint64 `json:"DomainId"`
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	RecordCount uint64 `json:"RecordCount"`
}

type domainCountInfo struct {
	AllTotal uint64 `json:"AllTotal"`
}

type describeDomainListRequest struct {
	Offset int `json:"Offset"`
	Limit  int `json:"Limit"`
}

type describeDomainListResponse struct {
	DomainCountInfo domainCountInfo `json:"DomainCountInfo"`
	DomainList      []Domain        `json:"DomainList"`
}

// Record is an existing record as the provider reports it.
type Record struct {
	RecordID uint64 `json:"RecordId"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Value    string `json:"Value"`
	Line     string `json:"Line"`
	TTL      int    `json:"TTL"`
	Status   string `json:"Status"`
}

type recordCountInfo struct {
	TotalCount uint64 `json:"TotalCount"`
}

type describeRecordListRequest struct {
	Domain string `json:"Domain"`
	Offset int    `json:"Offset"`
	Limit  int    `json:"Limit"`
}

type describeRecordListResponse struct {
	RecordCountInfo recordCountInfo `json:"RecordCountInfo"`
	RecordList      []Record        `json:"RecordList"`
}

// recordRequest is the body of CreateRecord and ModifyRecord.
type recordRequest struct {
	Domain     string  `json:"Domain"`
	SubDomain  string  `json:"SubDomain"`
	RecordType string  `json:"RecordType"`
	RecordLine string  `json:"RecordLine"`
	Value      string  `json:"Value"`
	TTL        int     `json:"TTL"`
	Status     string  `json:"Status"`
	RecordID   *uint64 `json:"RecordId,omitempty"`
}

type deleteRecordRequest struct {
	Domain   string `json:"Domain"`
	RecordID uint64 `json:"RecordId"`
}

type recordIDResponse struct {
	RecordID uint64 `json:"RecordId"`
}

func (r Record) String() string {
	return fmt.Sprintf("%d %s %s %s", r.RecordID, r.Name, r.Type, r.Value)
}
