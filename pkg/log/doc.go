// Package log provides protocol capture for the haptic control protocol.
//
// It is separate from operational logging (slog). A Logger receives an Event
// for every frame, decoded message, control message, state change and error
// observed by the transport and service layers, giving a machine-readable
// trace of a session.
//
//	// Console, for development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture file, readable with haptic-console -dump
//	fl, _ := log.NewFileLogger("session.hlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Capture files are a plain sequence of CBOR-encoded events.
package log
