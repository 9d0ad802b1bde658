package mux

import (
	"context"
	"sync"
)

// Channel is one logical duplex stream of a Mux. Inbound payloads are queued
// without bound; Recv drains them in arrival order and then reports the end
// of the channel.
type Channel struct {
	name string
	mux  *Mux

	mu     sync.Mutex
	queue  [][]byte
	ended  bool
	err    error
	notify chan struct{}

	done    chan struct{}
	endOnce sync.Once
}

func newChannel(name string, m *Mux) *Channel {
	return &Channel{
		name:   name,
		mux:    m,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the channel name used on the wire.
func (c *Channel) Name() string {
	return c.name
}

// Send writes payload to the remote side of this channel.
func (c *Channel) Send(payload []byte) error {
	c.mu.Lock()
	if c.ended {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.mux.writeFrame(NewData(c.name, payload))
}

// Recv returns the next inbound payload. Once the queue is drained after the
// channel ended, it returns the end cause.
func (c *Channel) Recv(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			payload := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return payload, nil
		}
		if c.ended {
			err := c.err
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done is closed when the channel ends, whatever the cause.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the end cause, or nil while the channel is open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tells the remote side the channel is finished and ends it locally.
func (c *Channel) Close() error {
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return nil
	}

	err := c.mux.writeFrame(NewEnd(c.name))
	c.end(&Error{Type: ErrorTypeLocalClosed, Channel: c.name})
	c.mux.removeChannel(c.name)
	return err
}

// push appends an inbound payload; false once the channel has ended.
func (c *Channel) push(payload []byte) bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, payload)
	c.mu.Unlock()

	c.signal()
	return true
}

func (c *Channel) end(cause error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		c.err = cause
		c.mu.Unlock()

		close(c.done)
		c.signal()
	})
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
