package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	v1 "tether/shared/contracts/realtime/v1"
)

// Client is one authenticated websocket connection.
//
// Send is never closed by the server, so concurrent fan-out cannot panic; done signals
// shutdown instead.
type Client struct {
	ConnID string
	Send   chan v1.Envelope

	authenticated atomic.Bool

	mu        sync.Mutex
	userID    string
	expiresAt time.Time
	reauth    *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(connID, userID string, expiresAt time.Time, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = minSendQueueSize
	}
	c := &Client{
		ConnID:    connID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		userID:    userID,
		expiresAt: expiresAt,
		done:      make(chan struct{}),
	}
	c.authenticated.Store(true)
	return c
}

// UserID returns the identity bound to the connection.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Authenticated reports whether privileged events are currently accepted.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// armReauth schedules fire at expiresAt minus margin, replacing any pending timer.
func (c *Client) armReauth(expiresAt time.Time, margin time.Duration, now time.Time, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reauth != nil {
		c.reauth.Stop()
	}
	c.expiresAt = expiresAt
	d := expiresAt.Add(-margin).Sub(now)
	if d < 0 {
		d = 0
	}
	c.reauth = time.AfterFunc(d, fire)
}

// reauthenticate installs a fresh expiry after a successful reauth.
func (c *Client) reauthenticate(expiresAt time.Time) {
	c.mu.Lock()
	c.expiresAt = expiresAt
	c.mu.Unlock()
	c.authenticated.Store(true)
}

func (c *Client) expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the reauth timer and signals shutdown. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.reauth != nil {
			c.reauth.Stop()
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the queue is full or the client is
// closing.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
