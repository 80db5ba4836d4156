// Package health aggregates component checks for the relay's
// /_relay/health endpoint.
//
// The application registers a "storage" check (database ping) and a
// "listener" check (server status is Running). The endpoint answers 200 with
// status "ok" when all checks pass and 503 with status "degraded" otherwise.
package health
