// Command haptic-console is an interactive shell for a remote haptic device.
//
// Usage:
//
//	haptic-console [flags]
//	haptic-console -dump capture.hlog [-conn id] [-channel name]
//
// Examples:
//
//	# Connect to an advertised server
//	haptic-console -remote /hapticdevice
//
//	# Connect by address
//	haptic-console -remote 192.168.1.20:10010
//
//	# Print a capture written by hapticd -capture
//	haptic-console -dump session.hlog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/haptic-bridge/haptic-go/pkg/config"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/service"
)

var (
	configFile  string
	remote      string
	local       string
	iface       string
	verbosity   int
	dumpFile    string
	dumpConn    string
	dumpChannel string
	tlsCA       string
	tlsInsecure bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&remote, "remote", "", "Server address or advertised name")
	flag.StringVar(&local, "local", "/haptic-console", "Local endpoint name")
	flag.StringVar(&iface, "interface", "", "Network interface for mDNS")
	flag.IntVar(&verbosity, "verbosity", 0, "0 silent, 1 info, 2 debug")
	flag.StringVar(&dumpFile, "dump", "", "Print a capture file and exit")
	flag.StringVar(&dumpConn, "conn", "", "Dump only this connection ID")
	flag.StringVar(&dumpChannel, "channel", "", "Dump only this channel")
	flag.StringVar(&tlsCA, "tls-ca", "", "CA certificate for TLS (PEM)")
	flag.BoolVar(&tlsInsecure, "tls-insecure", false, "Use TLS without verifying the server")
}

func main() {
	flag.Parse()

	if dumpFile != "" {
		n, err := dump(os.Stdout, dumpFile, log.Filter{ConnectionID: dumpConn, Channel: dumpChannel})
		if err != nil {
			fmt.Fprintf(os.Stderr, "haptic-console: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "%d events\n", n)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "haptic-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	cfg.Remote = remote
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		if remote != "" {
			cfg.Remote = remote
		}
	}
	cfg.TLS.CA = tlsCA
	cfg.TLS.Insecure = tlsInsecure
	if cfg.Remote == "" {
		return fmt.Errorf("-remote is required")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "haptic> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	tlsConf, err := cfg.TLS.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	client := service.NewRemoteClient(service.ClientConfig{
		Remote:    cfg.Remote,
		Local:     local,
		Interface: iface,
		TLSConfig: tlsConf,
		Logger:    config.NewLogger(rl.Stderr(), verbosity),
	})
	if err := client.Open(ctx); err != nil {
		return err
	}
	defer client.Close()

	c := newConsole(client, client.LastInputStamp, rl.Stdout())
	fmt.Fprintf(rl.Stdout(), "Connected to %s\n", cfg.Remote)
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}
		if c.exec(ctx, strings.TrimSpace(line)) {
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}
	}
}
