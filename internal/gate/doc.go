// Package gate decides whether a contact submission may proceed to email
// delivery and keeps the per-client submission ledger.
//
// The ledger is an in-memory sliding window: each client identifier maps to
// the timestamps of its accepted submissions, oldest first. Entries outside
// the window are pruned lazily on every access and eagerly by a periodic
// sweep. State is process-local and resets on restart.
//
// Acceptance reserves a ledger slot in the same critical section as the limit
// check. Callers must Commit the [Reservation] after a successful send or
// Release it on failure, so failed deliveries never count against the limit
// and concurrent requests from one client cannot over-admit.
package gate
