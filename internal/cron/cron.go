// Package cron runs periodic maintenance: sweeping idle sessions and
// pruning audit records past their retention.
package cron

import "context"

// Job is one maintenance task run by the Scheduler.
type Job interface {
	// Name identifies the job in logs and RunNow. Unique per scheduler.
	Name() string

	// Schedule is an expression accepted by ValidateSchedule.
	Schedule() string

	// Run performs one pass. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}
