// Package service holds the message framework and the service messages the
// stack exchanges: secure channel open/close, ServiceFault, Read, Write,
// Publish and GetEndpoints.
//
// Every message is prefixed on the wire by the NodeId of its DefaultBinary
// encoding; DecodeMessage resolves that id through the registry.
package service
