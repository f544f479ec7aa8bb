package metrics

import "time"

// Sink records engine metrics.
// All methods are fire-and-forget: implementations must not block or propagate errors.
type Sink interface {
	TaskScheduled()
	TaskCancelled()
	TaskFired(outcome string, deliveryDuration time.Duration)
	TimersArmed(n int)

	RecoveryRecord(result string)

	AuditDrift(storeOnly, registryOnly int)
}

// Outcome constants for TaskFired.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Result constants for RecoveryRecord.
const (
	RecoveryArmed   = "armed"
	RecoveryOverdue = "overdue"
	RecoveryDropped = "dropped"
	RecoverySkipped = "skipped"
)
