package notifyrpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"sync"
	"time"

	"relaycore/internal/breaker"
	"relaycore/internal/chat"
)

const (
	connectTimeout = 5 * time.Second
	callTimeout    = 3 * time.Second
)

// ErrCallTimeout is returned when an RPC does not complete within
// callTimeout; the underlying connection is dropped so the next call
// reconnects rather than piling up on a stuck socket.
var ErrCallTimeout = errors.New("notifyrpc: call timed out")

// Client is a lazily-connected net/rpc client for the Notification service,
// guarded by a Breaker per §4.4's three-failures-opens policy. It implements
// chat.NotificationClient.
type Client struct {
	addr    string
	breaker *breaker.Breaker

	mu   sync.Mutex
	conn *rpc.Client
}

var _ chat.NotificationClient = (*Client)(nil)

// NewClient returns a Client dialing addr on first use.
func NewClient(addr string) *Client {
	return &Client{addr: addr, breaker: breaker.New("notifyrpc")}
}

// GetUserDeviceTokens looks up a user's registered push tokens.
func (c *Client) GetUserDeviceTokens(ctx context.Context, userID string) ([]string, error) {
	var reply GetUserDeviceTokensReply
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, "Notification.GetUserDeviceTokens", &GetUserDeviceTokensArgs{UserID: userID}, &reply)
	})
	if err != nil {
		return nil, err
	}
	return reply.Tokens, nil
}

// SendPushNotification asks the Notification service to push title/body to
// the given device tokens.
func (c *Client) SendPushNotification(ctx context.Context, tokens []string, title, body string) error {
	var reply SendPushNotificationReply
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, "Notification.SendPushNotification", &SendPushNotificationArgs{
			Tokens: tokens, Title: title, Body: body,
		}, &reply)
	})
}

func (c *Client) call(ctx context.Context, proc string, args, reply interface{}) error {
	conn, err := c.ensureConn()
	if err != nil {
		return err
	}

	done := make(chan *rpc.Call, 1)
	conn.Go(proc, args, reply, done)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(callTimeout):
		c.dropConn()
		return ErrCallTimeout
	case res := <-done:
		if res.Error != nil {
			c.dropConn()
			return res.Error
		}
		return nil
	}
}

func (c *Client) ensureConn() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, connectTimeout)
	if err != nil {
		return nil, err
	}
	c.conn = rpc.NewClient(conn)
	return c.conn, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
