// Package service exposes a haptic.Device over the network and consumes one
// from the other side.
//
// # ControlServer
//
// ControlServer wraps any haptic.Device. Once a device is attached it samples
// the device every Period and broadcasts stamped frames to every state
// connection. Feedback vectors arriving on state connections land in a
// single-slot inbox (latest wins) and are forwarded to the device on every
// sample once the first vector arrived. Commands on rpc connections are
// answered with ack or nack.
//
//	srv := service.NewControlServer(service.ServerConfig{Name: "/hapticdevice"})
//	srv.Start(ctx)
//	defer srv.Stop()
//	srv.Attach(session)
//
// # RemoteClient
//
// RemoteClient implements haptic.Device over two connections to a
// ControlServer: a state connection that caches the latest frame and carries
// feedback upstream, and an rpc connection for blocking commands.
//
//	c := service.NewRemoteClient(service.ClientConfig{Remote: "/hapticdevice", Local: "/app"})
//	if err := c.Open(ctx); err != nil { ... }
//	defer c.Close()
//	pos, _ := c.Position()
//
// Channel names follow the "/<name>/state:o", "/<name>/feedback:i" and
// "/<name>/rpc" convention in logs and in the mDNS TXT record.
package service
