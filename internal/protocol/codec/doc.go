// Package codec implements the OPC UA binary encoding of the built-in types.
//
// Ownership boundary:
// - little-endian scalar primitives and length-prefixed strings
// - composite built-ins (NodeId, Variant, DataValue, DiagnosticInfo, ...)
// - decoding limits applied while reading untrusted input
// - status codes used as error values across the stack
//
// Writers and readers are sticky: the first failure is recorded and every
// later call becomes a no-op, so encoders read as straight-line code and
// check Err once at the end.
package codec
