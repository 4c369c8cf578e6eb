package queue

import "github.com/trunov/captionhub/internal/errs"

// Outcome is what happened to one delivered message.
type Outcome string

const (
	// OutcomeCompleted: processed and acknowledged.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRejected: permanent failure, acknowledged and dropped.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDeferred: transient failure, left pending for redelivery.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeDeadLettered: deferred too many times, moved aside and acknowledged.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Decide classifies a handler result. Only errors known to be permanent are
// dropped; anything unclassified is retried.
func Decide(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errs.IsPermanent(err):
		return OutcomeRejected
	default:
		return OutcomeDeferred
	}
}

// Acked reports whether the outcome removes the message from the group.
func (o Outcome) Acked() bool { return o != OutcomeDeferred }
