// Package chunk frames service messages into secure channel chunks.
//
// A chunk is a UA-TCP frame of type OPN, MSG or CLO whose header carries a
// secure channel id. Its body holds a security header (asymmetric for OPN,
// symmetric otherwise), a sequence header and a slice of the encoded message.
// Only SecurityPolicy#None is supported, so bodies are never signed or
// encrypted.
package chunk
