package finalize

import (
	"context"
	"time"

	"github.com/parlancehq/parlance/pkg/kv"
)

// CallRecord is the closed-out call row.
type CallRecord struct {
	CallSid   string    `msgpack:"call_sid"`
	StreamSid string    `msgpack:"stream_sid"`
	TenantID  string    `msgpack:"tenant_id"`
	LeadID    string    `msgpack:"lead_id"`
	From      string    `msgpack:"from"`
	To        string    `msgpack:"to"`
	StartedAt time.Time `msgpack:"started_at"`
	EndedAt   time.Time `msgpack:"ended_at"`
	Status    string    `msgpack:"status"`
}

// Contact is the caller's contact details as extracted from the
// transcript.
type Contact struct {
	Name  string `json:"name" msgpack:"name"`
	Phone string `json:"phone" msgpack:"phone"`
	Email string `json:"email" msgpack:"email"`
}

// Lead summarizes what the caller wants.
type Lead struct {
	Summary  string `json:"summary" msgpack:"summary"`
	CaseType string `json:"case_type" msgpack:"case_type"`
}

// Intake holds the incident details gathered during the call.
type Intake struct {
	IncidentDate     string `json:"incident_date" msgpack:"incident_date"`
	IncidentLocation string `json:"incident_location" msgpack:"incident_location"`
	Description      string `json:"description" msgpack:"description"`
	Injuries         string `json:"injuries" msgpack:"injuries"`
}

// Qualification is the extractor's judgement of lead quality.
type Qualification struct {
	Qualified bool   `json:"qualified" msgpack:"qualified"`
	Score     int    `json:"score" msgpack:"score"`
	Reason    string `json:"reason" msgpack:"reason"`
}

// Extraction is the structured output of running extraction over a
// transcript.
type Extraction struct {
	Contact       Contact       `json:"contact"`
	Lead          Lead          `json:"lead"`
	Intake        Intake        `json:"intake"`
	Qualification Qualification `json:"qualification"`
}

// closeCall marks the call closed in the record store.
func (f *Finalizer) closeCall(ctx context.Context, snap *Snapshot) error {
	rec := CallRecord{
		CallSid:   snap.CallSid,
		StreamSid: snap.StreamSid,
		TenantID:  snap.TenantID,
		LeadID:    snap.LeadID,
		From:      snap.From,
		To:        snap.To,
		StartedAt: snap.StartedAt,
		EndedAt:   snap.EndedAt,
		Status:    "closed",
	}
	entries := make([]kv.Entry, 0, 2)
	e, err := kv.RecordEntry(kv.Key{"call", snap.CallSid, "record"}, &rec)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	e, err = kv.RecordEntry(kv.Key{"call", snap.CallSid, "entries"}, snap.Entries)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	return f.Store.BatchSet(ctx, entries)
}

// persistRecords upserts the extracted records, keyed both under the
// call and, when a lead id is known, under the lead. Partial identity
// is tolerated: records are written wherever keys can be formed.
func (f *Finalizer) persistRecords(ctx context.Context, snap *Snapshot, ext *Extraction) error {
	var entries []kv.Entry
	add := func(key kv.Key, v any) error {
		e, err := kv.RecordEntry(key, v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}

	if err := add(kv.Key{"call", snap.CallSid, "contact"}, &ext.Contact); err != nil {
		return err
	}
	if err := add(kv.Key{"call", snap.CallSid, "lead"}, &ext.Lead); err != nil {
		return err
	}
	if err := add(kv.Key{"call", snap.CallSid, "intake"}, &ext.Intake); err != nil {
		return err
	}
	if err := add(kv.Key{"call", snap.CallSid, "qualification"}, &ext.Qualification); err != nil {
		return err
	}
	if snap.LeadID != "" {
		if err := add(kv.Key{"lead", snap.LeadID, "intake"}, &ext.Intake); err != nil {
			return err
		}
		if err := add(kv.Key{"lead", snap.LeadID, "qualification"}, &ext.Qualification); err != nil {
			return err
		}
	}
	return f.Store.BatchSet(ctx, entries)
}
