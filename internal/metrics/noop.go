package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) TaskScheduled()                            {}
func (NoopSink) TaskCancelled()                            {}
func (NoopSink) TaskFired(outcome string, d time.Duration) {}
func (NoopSink) TimersArmed(n int)                         {}
func (NoopSink) RecoveryRecord(result string)              {}
func (NoopSink) AuditDrift(storeOnly, registryOnly int)    {}
