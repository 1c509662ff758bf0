package gateway

import "time"

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeFallback    Outcome = "fallback"
	OutcomeRejected    Outcome = "rejected"
	OutcomeNoInstances Outcome = "no_instances"
	OutcomeNotSelected Outcome = "selection_failed"
)

// CallEvent describes one finished Call.
type CallEvent struct {
	Service    string
	InstanceID string
	Outcome    Outcome
	Attempts   int
	Duration   time.Duration
	Err        error
}

// Observer receives call events. It runs on the caller's goroutine and must
// not block.
type Observer func(CallEvent)
