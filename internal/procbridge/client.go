package procbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Client issues procbridge calls against one host and port. Each call
// opens its own connection.
type Client struct {
	Host    string
	Port    int
	Timeout time.Duration

	// Dialer is used when set; tests substitute it.
	Dialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Request sends method with payload and returns the response payload.
// payload must be nil or valid JSON.
func (c *Client) Request(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error) {
	if payload != nil && !json.Valid(payload) {
		return nil, fmt.Errorf("procbridge: payload for %q is not valid JSON", method)
	}
	frame, err := EncodeRequest(method, payload)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("procbridge: dial %s: %w", c.Addr(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := WriteFrame(conn, frame); err != nil {
		return nil, withContextErr(ctx, err)
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}
	return DecodeResponse(resp)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.Dialer != nil {
		return c.Dialer.DialContext(ctx, "tcp", c.Addr())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.Addr())
}

// withContextErr attaches the context error when cancellation or the
// deadline caused an I/O failure.
func withContextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%w)", err, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w (%w)", err, context.DeadlineExceeded)
	}
	return err
}
