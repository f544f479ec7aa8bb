package scheduler

import (
	"errors"

	"sendlater/internal/timers"
)

var (
	// ErrInvalidSchedule is returned when the requested fire time violates the
	// overdue policy. No state is mutated.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrDuplicateTask means a generated id collided with a live task.
	ErrDuplicateTask = timers.ErrDuplicateTask

	// ErrTaskNotFound is returned by Cancel when the task already fired, was
	// already cancelled or never existed.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDeliveryFailed wraps notifier errors at fire time. It is only logged.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrRecoveryLoad marks a persisted record that recovery skipped.
	ErrRecoveryLoad = errors.New("recovery: record skipped")

	ErrAlreadyRecovered = errors.New("recovery already ran")
	ErrEngineClosed     = errors.New("engine closed")
)
