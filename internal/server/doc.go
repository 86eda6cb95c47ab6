// Package server runs the UA-TCP server side: one Session per accepted
// connection, the secure channel handshake, service dispatch against an
// address space, and the admin HTTP control plane.
//
// Ownership boundary:
// - Server: listener, session registry, abort switch polling
// - Session: the per-connection state machine and read loop
// - admin routes: health, metrics, session listing and abort
package server
