// Package scheduler owns the live timer set.
//
// The registry is the only writer of the (tenant, task) -> timer mapping.
// Everything else asks it to Schedule or Cancel; direct access to the
// underlying cron entries is never exposed.
package scheduler
