// Package transport carries protocol messages over TCP, optionally wrapped
// in TLS 1.3.
//
// Each message travels in a frame made of a 4-byte big-endian length
// followed by the CBOR payload. The server accepts connections, assigns
// each a UUID and runs one read loop per connection. Control messages
// (ping, pong, close) are answered here and never reach the service layer.
//
// Clients may run a KeepAlive on a connection: a missed pong streak closes
// the connection so that pending requests fail instead of hanging.
package transport
