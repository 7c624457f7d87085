package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haptic-bridge/haptic-go/pkg/config"
	"github.com/haptic-bridge/haptic-go/pkg/discovery"
	"github.com/haptic-bridge/haptic-go/pkg/driver"
	"github.com/haptic-bridge/haptic-go/pkg/service"
)

func TestServerInfo(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.PeriodMs = 10

	srv := service.NewControlServer(service.ServerConfig{Name: cfg.Name, ListenAddress: cfg.Listen})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	info := serverInfo(cfg, srv)
	assert.NotZero(t, info.Port)
	assert.Equal(t, "/hapticdevice/state:o", info.StateChannel)
	assert.Equal(t, "/hapticdevice/feedback:i", info.FeedbackChannel)
	assert.Equal(t, "/hapticdevice/rpc", info.RPCChannel)
	assert.Equal(t, 10*time.Millisecond, info.Period)

	decoded, err := discovery.DecodeServerTXT(discovery.EncodeServerTXT(info))
	require.NoError(t, err)
	assert.Equal(t, info.RPCChannel, decoded.RPCChannel)
}

func TestAttachSubdeviceFailureKeepsServing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"

	srv := service.NewControlServer(service.ServerConfig{Name: cfg.Name, ListenAddress: cfg.Listen})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	cfg.Subdevice = "no-such-driver"
	assert.Nil(t, attachSubdevice(context.Background(), cfg, srv, logger))
	assert.False(t, srv.Stats().Attached)
	assert.NotNil(t, srv.Addr())

	cfg.Subdevice = driver.NameLoopback
	dev := attachSubdevice(context.Background(), cfg, srv, logger)
	require.NotNil(t, dev)
	defer dev.Close()
	assert.True(t, srv.Stats().Attached)
}
