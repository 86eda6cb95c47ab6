// Package session owns the client-side correlation engine and the settings
// shared by both ends of a secure channel session.
//
// Ownership boundary:
// - MessageQueue: inflight requests and unclaimed responses keyed by handle
// - Outbox: the FIFO drained by the single transport writer
// - Config: buffer/message limits, timeouts and retry backoff
// - security policy and mode checks (SecurityPolicy#None only)
package session
