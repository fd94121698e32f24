package control

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Client talks to a running control server.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the control socket, retrying until timeout elapsed.
func Dial(ctx context.Context, socket string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = timeout

	var client *rpc.Client

	op := func() error {
		c, err := rpc.DialIPC(ctx, socket)
		if err != nil {
			return err
		}

		client = c
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.Debug("failed to dial control socket",
			zap.Error(err),
			zap.Duration("backoff", delay))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socket, err)
	}

	return &Client{rpc: client}, nil
}

func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var reply StatusReply

	if err := c.rpc.CallContext(ctx, &reply, Namespace+"_status"); err != nil {
		return StatusReply{}, err
	}

	return reply, nil
}

func (c *Client) Restart(ctx context.Context) error {
	return c.rpc.CallContext(ctx, nil, Namespace+"_restart")
}

func (c *Client) Close() {
	c.rpc.Close()
}
