// Package wire defines the CBOR wire format of the haptic control protocol.
//
// Every message is a CBOR map with integer keys. Key 1 always holds the
// message Kind so a receiver can dispatch with PeekKind before decoding the
// rest. Messages are carried in length-prefixed frames by package transport.
//
// # Message Kinds
//
//   - Hello: first message on a connection, names the channel (state or rpc)
//   - Request / Reply: synchronous commands on the rpc channel
//   - Frame: stamped telemetry broadcast on the state channel
//   - Feedback: force or torque vector sent upstream on the state channel
//   - Ping / Pong / Close: connection control
//
// # Commands
//
// Requests carry a short text tag (see Command). Replies carry "ack" or
// "nack". A nack never carries a payload.
package wire
