// Package notify reports daemon lifecycle to the service manager via the
// sd_notify protocol. Outside a systemd unit every call is a no-op.
package notify

import (
	"fmt"
	"net"
	"os"
)

// Notifier provides lifecycle notifications for the daemon
type Notifier interface {
	// Ready announces that startup is complete and cycles are running
	Ready() error
	// Stopping announces that shutdown has begun
	Stopping() error
	// Status publishes a free-form status string
	Status(msg string) error
}

// Client implements Notifier by writing datagrams to NOTIFY_SOCKET
type Client struct {
	socket string
}

// NewClient creates a notifier bound to the ambient NOTIFY_SOCKET.
// The zero socket (not running under systemd) disables all notifications.
func NewClient() *Client {
	return &Client{socket: os.Getenv("NOTIFY_SOCKET")}
}

// Ready sends READY=1
func (c *Client) Ready() error {
	return c.send("READY=1")
}

// Stopping sends STOPPING=1
func (c *Client) Stopping() error {
	return c.send("STOPPING=1")
}

// Status sends STATUS=<msg>
func (c *Client) Status(msg string) error {
	return c.send("STATUS=" + msg)
}

func (c *Client) send(state string) error {
	if c.socket == "" {
		return nil
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{
		Name: c.socket,
		Net:  "unixgram",
	})
	if err != nil {
		return fmt.Errorf("failed to dial notify socket: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("failed to write notify state: %w", err)
	}
	return nil
}
