// Package broadcast implements the delayed broadcast scheduler.
//
// A broadcast is one message (text and/or image) fanned out to an ordered list
// of destination group IDs through the WhatsApp gateway. Schedule() registers
// a job and arms a one-shot timer; when it fires, the dispatcher walks the
// destination list sequentially with inter-message pacing and an extended
// backoff after a gateway rate-limit rejection.
//
// Lifecycle
//
// A job exists in the registry exactly while it has not finished and has not
// been cancelled. Cancel() only works before the timer fires; once dispatch
// has started the run goes to completion and the entry is removed afterward,
// whatever the outcome. Pending jobs do not survive a process restart.
//
// Finished jobs leave a bounded in-memory history record (per-destination
// results) so outcomes stay observable for a while after cleanup.
package broadcast
