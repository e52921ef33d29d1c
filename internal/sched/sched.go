// Package sched models this driver's single-threaded cooperative
// dispatcher: every long-running activity is a task on one dispatcher
// that yields only at explicit suspension points (a block-device
// sector read or completing a page-in load). Tasks here run as
// goroutines, but a single Ticket of weight 1 ensures at most one of
// them is ever past a suspension point doing real work at a time,
// reproducing the intended happens-before ordering without
// hand-rolling a cooperative scheduler.
package sched

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Ticket is the single dispatcher's admission token.
type Ticket struct {
	sem *semaphore.Weighted
}

// NewTicket constructs the filesystem-wide single dispatcher ticket.
func NewTicket() *Ticket {
	return &Ticket{sem: semaphore.NewWeighted(1)}
}

// Run acquires the dispatcher ticket, runs fn, and releases it. fn must
// do real work, not wait on another task: a managed-memory Lock can
// block until a different page-in handler completes a load, and that
// handler needs this same ticket to make progress, so fn must never
// contain a Lock wait (or anything else that blocks on another ticket
// holder) — only the disk read or complete-load step itself. Callers
// resolve any cross-handler wait before calling Run, not inside fn.
func (t *Ticket) Run(ctx context.Context, fn func() error) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)
	return fn()
}
