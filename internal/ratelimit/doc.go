// Package ratelimit is a coarse per-IP flood guard in front of every route.
//
// It is a token bucket per client address (golang.org/x/time/rate), held in
// memory and evicted after a period of inactivity. It keeps one address from
// exhausting connections or goroutines. The contact submission quota is a
// separate, stricter rolling window enforced by package gate.
package ratelimit
