// Package pipeline implements the per-message ingress state machine of
// spec.md §4.6: validate, dedup, rate-limit/ACL/addressed-to-me gating,
// room/entity resolution, planning, streamed generation with paced edits,
// and finalization. Grounded on the teacher's RunnerImpl event loop in
// core/runner.go (queue channel, per-event context, stopChan+WaitGroup
// shutdown), generalized from single-state dispatch to the full
// Received→Done chain.
package pipeline

import "time"

// InboundMessage is the normalized ingress contract from spec.md §4.6.
type InboundMessage struct {
	Source             string
	ChatID             string
	UserExternalID     string
	MessageExternalID  string
	Text               string
	IsPrivate          bool
	IsVoice            bool
	IsBotAuthor        bool
	ReplyToExternalID  string
	Mentioned          bool
	ReceivedAt         time.Time
}

// State names the per-message state machine's nodes.
type State string

const (
	StateReceived   State = "received"
	StateValidated  State = "validated"
	StateAdmitted   State = "admitted"
	StateAccepted   State = "accepted"
	StatePlanning   State = "planning"
	StateGenerating State = "generating"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateDropped    State = "dropped"
)

// DropReason names why a message was dropped at Admitted, per spec.md §4.6.
type DropReason string

const (
	DropRateLimited DropReason = "rate_limited"
	DropNotAddressed DropReason = "not_addressed"
	DropNotAllowed  DropReason = "not_allowed"
	DropInvalid     DropReason = "invalid"
	DropDuplicate   DropReason = "duplicate"
)

// Outcome records where a message ended up and why, for the caller's logs
// and tests — the pipeline itself never surfaces drop reasons to the user.
type Outcome struct {
	FinalState State
	DropReason DropReason
	Error      error
	FinalText  string
	Interrupted bool
}

const maxTextLen = 4096
