// Package finalize implements the end-of-call pipeline: close out the
// call record, archive the transcript, run extraction over it, and
// persist the structured records extraction produces.
//
// The pipeline is deliberately best-effort and non-transactional. Each
// step is logged with a step marker and its failure is swallowed, so a
// downstream field-mapping problem can never cost us the transcript
// that earlier steps already saved.
package finalize

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parlancehq/parlance/pkg/kv"
	"github.com/parlancehq/parlance/pkg/storage"
)

const (
	defaultMinTranscriptChars = 40
	defaultRetryAttempts      = 3
	defaultRetryDelay         = 2 * time.Second
	defaultSeenLimit          = 4096
)

// TranscriptEntry is one utterance in the call transcript, in arrival
// order.
type TranscriptEntry struct {
	Role string    `msgpack:"role"` // "caller" or "assistant"
	Text string    `msgpack:"text"`
	At   time.Time `msgpack:"at"`
}

// Snapshot is everything the bridge knows about a call at the moment it
// ends. Tenant and lead identifiers are populated asynchronously by the
// acceptance path and may still be empty here.
type Snapshot struct {
	CallSid   string
	StreamSid string
	TenantID  string
	LeadID    string
	ContactID string
	From      string
	To        string
	StartedAt time.Time
	EndedAt   time.Time
	Entries   []TranscriptEntry
}

// Transcript renders the entries as "role: text" lines.
func (s *Snapshot) Transcript() string {
	var b strings.Builder
	for _, e := range s.Entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// IdentityLookup resolves the tenant and lead identifiers for a call.
// The lead-creation path runs concurrently with the call itself, so a
// lookup right at hangup may come back empty.
type IdentityLookup interface {
	Identity(ctx context.Context, callSid string) (tenantID, leadID string, err error)
}

// Finalizer runs the end-of-call pipeline at most once per call.
type Finalizer struct {
	Store   kv.Store
	Archive storage.FileStore
	Extract Extractor
	Lookup  IdentityLookup // optional
	Logger  *slog.Logger

	// MinTranscriptChars is the length below which extraction is
	// skipped. Zero selects the default.
	MinTranscriptChars int

	// RetryAttempts and RetryDelay bound the wait for tenant/lead
	// identifiers that the concurrent lead-creation path has not
	// written yet. Zero values select the defaults.
	RetryAttempts int
	RetryDelay    time.Duration

	// SeenLimit bounds the dedup set. Zero selects the default.
	SeenLimit int

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

// Finalize runs the pipeline for the given call. It returns immediately
// without doing anything if the call was already finalized; entries may
// be evicted from the dedup set once it exceeds its bound, which is an
// accepted risk, not a guarantee.
func (f *Finalizer) Finalize(ctx context.Context, snap *Snapshot) {
	if !f.markSeen(snap.CallSid) {
		return
	}
	logger := f.logger().With("call_sid", snap.CallSid)
	logger.Info("finalizing call",
		"entries", len(snap.Entries),
		"duration", snap.EndedAt.Sub(snap.StartedAt))

	f.awaitIdentity(ctx, snap, logger)

	f.step(logger, "close", func() error {
		return f.closeCall(ctx, snap)
	})

	transcript := snap.Transcript()

	f.step(logger, "archive", func() error {
		if transcript == "" {
			return nil
		}
		path := storage.TranscriptPath(snap.CallSid, snap.EndedAt)
		return storage.WriteAll(ctx, f.Archive, path, []byte(transcript))
	})

	minChars := f.MinTranscriptChars
	if minChars <= 0 {
		minChars = defaultMinTranscriptChars
	}
	if len(transcript) < minChars {
		logger.Info("transcript too short to extract", "chars", len(transcript))
		return
	}
	if f.Extract == nil {
		logger.Warn("no extractor configured, transcript archived only")
		return
	}

	var ext *Extraction
	f.step(logger, "extract", func() error {
		var err error
		ext, err = f.Extract.Extract(ctx, transcript)
		return err
	})
	if ext == nil {
		return
	}

	f.step(logger, "persist", func() error {
		return f.persistRecords(ctx, snap, ext)
	})
}

// markSeen records the call in the dedup set. It returns false if the
// call was already finalized.
func (f *Finalizer) markSeen(callSid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	if _, ok := f.seen[callSid]; ok {
		return false
	}
	f.seen[callSid] = struct{}{}
	f.seenOrder = append(f.seenOrder, callSid)

	limit := f.SeenLimit
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	for len(f.seenOrder) > limit {
		evict := f.seenOrder[0]
		f.seenOrder = f.seenOrder[1:]
		delete(f.seen, evict)
	}
	return true
}

// awaitIdentity retries the identity lookup while the tenant or lead id
// is missing, then gives up and proceeds with whatever is available.
func (f *Finalizer) awaitIdentity(ctx context.Context, snap *Snapshot, logger *slog.Logger) {
	if f.Lookup == nil || (snap.TenantID != "" && snap.LeadID != "") {
		return
	}
	attempts := f.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := f.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	for i := 0; i < attempts; i++ {
		tenantID, leadID, err := f.Lookup.Identity(ctx, snap.CallSid)
		if err != nil {
			logger.Warn("identity lookup failed", "attempt", i+1, "err", err)
		} else {
			if snap.TenantID == "" {
				snap.TenantID = tenantID
			}
			if snap.LeadID == "" {
				snap.LeadID = leadID
			}
			if snap.TenantID != "" && snap.LeadID != "" {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	logger.Warn("proceeding without full identity",
		"tenant_id", snap.TenantID, "lead_id", snap.LeadID)
}

// step runs one pipeline step, logging its outcome. Failures are logged
// and swallowed so later steps still run.
func (f *Finalizer) step(logger *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error("finalize step failed", "step", name, "err", err)
		return
	}
	logger.Debug("finalize step done", "step", name)
}

func (f *Finalizer) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
