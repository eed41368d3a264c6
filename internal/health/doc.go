// Package health holds the liveness and readiness probes served on the admin
// port. ShutdownGate fails readiness while the process drains so the load
// balancer stops routing submissions before listeners close.
package health
