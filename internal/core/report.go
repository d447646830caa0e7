package core

import (
	"net/netip"
	"time"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

// EngineState is the phase the engine is in.
type EngineState string

const (
	StateIdle    EngineState = "idle"
	StateProbing EngineState = "probing"
)

// FamilyResult is the probe outcome of one family in a cycle.
type FamilyResult struct {
	Family  domain.Family
	Probed  bool
	Changed bool
	Addr    netip.Addr
	Err     error
}

// RecordOutcome is the result of reconciling one managed record.
type RecordOutcome struct {
	RecordID  int64
	AccountID int64
	FQDN      string
	Type      domain.RecordType
	Value     string
	Err       error

	// Retry is set when the update will be attempted again on a later cycle.
	Retry bool
}

func (o RecordOutcome) OK() bool { return o.Err == nil }

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Families   []FamilyResult
	Outcomes   []RecordOutcome
	Cancelled  bool
	Err        error
}

// Changed reports whether family's address changed in this cycle.
func (r CycleReport) Changed(family domain.Family) bool {
	for _, f := range r.Families {
		if f.Family == family {
			return f.Changed
		}
	}
	return false
}

func (r CycleReport) AnyChanged() bool {
	for _, f := range r.Families {
		if f.Changed {
			return true
		}
	}
	return false
}

// Failed returns the outcomes that carry an error.
func (r CycleReport) Failed() []RecordOutcome {
	var failed []RecordOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
