// Package recurring schedules repeating broadcasts.
//
// A definition pairs a stable name with a schedule (cron expression or fixed
// interval) and a broadcast template. On every tick the service submits an
// immediate job to the broadcast scheduler; delivery pacing and bookkeeping
// stay entirely in that service.
//
// Names are upserted: re-adding a definition with the same name replaces the
// previous one, which keeps config hot-reloads idempotent. Definitions added
// while the service is stopped are applied on the next Start.
package recurring
