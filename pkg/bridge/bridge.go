// Package bridge wires one phone call together: the carrier media
// socket on one side, the realtime model and the synthesis provider on
// the other, with the turn-taking controller deciding who holds the
// floor.
//
// Each call gets exactly one Session actor goroutine that owns all of
// the call's mutable state. Reader goroutines for the carrier socket,
// the model socket and the synthesis stream only relay into the actor's
// event channel; nothing outside the actor touches session state except
// SetIdentity, which the acceptance webhook calls from its own request
// goroutine.
package bridge

import (
	"context"
	"iter"
	"time"

	"github.com/parlancehq/parlance/pkg/realtime"
	"github.com/parlancehq/parlance/pkg/turns"
)

// AcceptedCall is what the webhook acceptance collaborator resolved
// before the media stream connected: identifiers and phone numbers.
// Tenant, lead and contact may still be empty and arrive later through
// SetIdentity.
type AcceptedCall struct {
	CallSid   string
	StreamSid string
	From      string
	To        string
	TenantID  string
	LeadID    string
	ContactID string
}

// ModelSession is the slice of the realtime session the bridge drives.
// *realtime.Session satisfies it; tests substitute a fake.
type ModelSession interface {
	AppendAudio(audio []byte) error
	AddUserMessage(text string) error
	AddAssistantMessage(text string) error
	CreateResponse() error
	CancelResponse() error
	Events() iter.Seq2[*realtime.ServerEvent, error]
	Close() error
}

// ModelDialer opens a fresh model session. It is called once at call
// start and again on every reconnection attempt.
type ModelDialer func(ctx context.Context) (ModelSession, error)

// Canned lines spoken without a model round trip.
const (
	DefaultGreeting    = "Thanks for calling. How can I help you today?"
	DefaultCheckIn     = "Are you still there?"
	DefaultSayAgain    = "Sorry, I didn't quite get that. Could you say it again?"
	DefaultNotCaptured = "I'm sorry, I couldn't make that out. Could you repeat it?"
	DefaultFiller      = "One moment, please."
	DefaultFallback    = "Sorry, we're having a technical issue. Please stay on the line."
)

// lineText returns the canned line for a controller line kind.
func lineText(kind turns.LineKind) string {
	switch kind {
	case turns.LineCheckIn:
		return DefaultCheckIn
	case turns.LineSayAgain:
		return DefaultSayAgain
	case turns.LineNotCaptured:
		return DefaultNotCaptured
	}
	return DefaultSayAgain
}

// Defaults for SessionOptions zero values.
const (
	defaultReconnectAttempts = 3
	defaultReconnectBase     = 500 * time.Millisecond
	defaultFallbackDeadline  = 4 * time.Second
	defaultPendingFrameLimit = 500 // 10s of caller audio at 20ms frames
)
