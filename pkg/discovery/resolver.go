package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/enbility/zeroconf/v3"
)

// IsDirectAddress reports whether remote is a host:port pair that needs no lookup.
func IsDirectAddress(remote string) bool {
	host, port, err := net.SplitHostPort(remote)
	if err != nil || host == "" {
		return false
	}
	_, err = strconv.ParseUint(port, 10, 16)
	return err == nil
}

// Address returns a dialable host:port, preferring IPv4.
func (e Endpoint) Address() (string, error) {
	if len(e.Addresses) > 0 {
		return net.JoinHostPort(e.Addresses[0], strconv.Itoa(int(e.Port))), nil
	}
	if e.Host != "" {
		return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port))), nil
	}
	return "", fmt.Errorf("%w: %s has no address", ErrNotFound, e.Instance)
}

// Resolve maps remote to a dialable address. host:port values are returned
// as is; anything else is looked up as an mDNS instance name. Interface
// restricts browsing to one network interface (empty means all).
func Resolve(ctx context.Context, remote, iface string) (string, error) {
	if IsDirectAddress(remote) {
		return remote, nil
	}
	ep, err := Lookup(ctx, remote, iface)
	if err != nil {
		return "", err
	}
	return ep.Address()
}

// Lookup browses for the control server instance named name.
func Lookup(ctx context.Context, name, iface string) (Endpoint, error) {
	instance, err := InstanceName(name)
	if err != nil {
		return Endpoint{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultResolveTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := selectInterface(iface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, instance)
			}
			if entry.Instance != instance {
				continue
			}
			ep, err := endpointFrom(entry.Instance, entry.HostName, entry.Port, append(entry.AddrIPv4, entry.AddrIPv6...), entry.Text)
			if err != nil {
				continue
			}
			return ep, nil
		case <-removed:
		case err := <-browseErr:
			if err != nil {
				return Endpoint{}, fmt.Errorf("mDNS browse failed: %w", err)
			}
			browseErr = nil
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, instance)
		}
	}
}

func endpointFrom(instance, host string, port int, ips []net.IP, text []string) (Endpoint, error) {
	info, err := DecodeServerTXT(StringsToTXTRecords(text))
	if err != nil {
		return Endpoint{}, err
	}
	info.Name = instance
	info.Port = uint16(port)

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return Endpoint{
		Instance:  instance,
		Host:      host,
		Port:      uint16(port),
		Addresses: addrs,
		Info:      info,
	}, nil
}
