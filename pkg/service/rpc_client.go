package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// requestSender writes one encoded request.
type requestSender interface {
	Send(data []byte) error
}

// rpcClient correlates requests and replies by message ID.
type rpcClient struct {
	mu      sync.RWMutex
	sender  requestSender
	timeout time.Duration
	closed  bool

	nextMsgID atomic.Uint32

	pending   map[uint32]chan *wire.Reply
	pendingMu sync.Mutex
}

func newRPCClient(sender requestSender, timeout time.Duration) *rpcClient {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &rpcClient{
		sender:  sender,
		timeout: timeout,
		pending: make(map[uint32]chan *wire.Reply),
	}
}

// nextMessageID returns a non-zero message ID.
func (c *rpcClient) nextMessageID() uint32 {
	for {
		if id := c.nextMsgID.Add(1); id != 0 {
			return id
		}
	}
}

// call sends req and waits for its reply. A nack is returned as ErrRejected.
func (c *rpcClient) call(ctx context.Context, req *wire.Request) (*wire.Reply, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	timeout := c.timeout

	req.MessageID = c.nextMessageID()
	replyCh := make(chan *wire.Reply, 1)

	c.pendingMu.Lock()
	c.pending[req.MessageID] = replyCh
	c.pendingMu.Unlock()
	c.mu.RUnlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.sender.Send(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientClosed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, req.Command, timeout)
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if !reply.IsAck() {
			return nil, fmt.Errorf("%w: %s", ErrRejected, req.Command)
		}
		return reply, nil
	}
}

// handleReply routes a reply to its waiting caller.
func (c *rpcClient) handleReply(reply *wire.Reply) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	ch, exists := c.pending[reply.MessageID]
	if !exists {
		return ErrUnexpectedReply
	}

	select {
	case ch <- reply:
	default:
	}
	return nil
}

// close fails every pending call.
func (c *rpcClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
