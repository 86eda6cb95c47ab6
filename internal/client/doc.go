// Package client connects to a UA-TCP endpoint and correlates service calls.
//
// Ownership boundary:
// - Client owns dialing, reconnect backoff, HEL/ACK and the initial OPN.
// - Session owns one connection: a send loop draining the outbox and a
//   receive loop filing responses into the MessageQueue.
// - Callers block only inside Call, waiting on the queue's change signal.
package client
