package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// Client issues one-shot RPC calls to an index server. Each call opens
// its own connection.
type Client struct {
	network   string
	address   string
	format    wireFormat
	timeout   time.Duration
	rebuild   time.Duration
	retry     ferrors.RetryConfig
	requestID atomic.Uint64
}

// NewClient creates a client for cfg.Address.
func NewClient(cfg Config) *Client {
	network, address := ParseAddress(cfg.Address)
	codec, err := ParseCodec(string(cfg.Codec))
	if err != nil {
		codec = CodecJSON
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{
		network: network,
		address: address,
		format:  wireFormat{codec: codec, compress: cfg.Compress},
		timeout: timeout,
		rebuild: cfg.RebuildTimeout,
		retry:   ferrors.DefaultRetryConfig(),
	}
}

// Address returns the server endpoint.
func (c *Client) Address() string {
	if c.network == "unix" {
		return "unix:" + c.address
	}
	return c.address
}

// Connect dials the server, retrying briefly with backoff. Failures are
// connection errors.
func (c *Client) Connect(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	dialer := net.Dialer{Timeout: c.timeout}
	err := ferrors.Retry(ctx, c.retry, func() error {
		var err error
		conn, err = dialer.DialContext(ctx, c.network, c.address)
		if err != nil {
			return ferrors.ConnectionError(c.Address(), err)
		}
		return nil
	})
	if err != nil {
		if !ferrors.IsConnection(err) {
			err = ferrors.ConnectionError(c.Address(), err)
		}
		return nil, err
	}
	return conn, nil
}

// IsRunning checks if the server is accepting connections.
func (c *Client) IsRunning(ctx context.Context) bool {
	conn, err := c.Connect(ctx)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	if err := c.Call(ctx, MethodPing, nil, &res); err != nil {
		return err
	}
	if !res.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Status gets the server status, optionally for one model's index.
func (c *Client) Status(ctx context.Context, model string) (*StatusResult, error) {
	var res StatusResult
	if err := c.Call(ctx, MethodStatus, StatusParams{Model: model}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Call sends one request and decodes its result into result, which may
// be nil. Transport failures are connection errors; server-side failures
// come back as the ferret error the server raised.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := c.callContext(ctx, method)
	defer cancel()

	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ferrors.ConnectionError(c.Address(), err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := c.send(conn, req); err != nil {
		return ferrors.ConnectionError(c.Address(), err)
	}

	resp, err := c.receive(conn)
	if err != nil {
		return ferrors.ConnectionError(c.Address(), err)
	}
	if resp.Error != nil {
		return remoteError(resp.Error)
	}
	if result == nil {
		return nil
	}
	if err := c.format.convert(resp.Result, result); err != nil {
		return ferrors.InternalError("failed to decode "+method+" result", err)
	}
	return nil
}

// callContext mirrors the server's budget: rebuilds get the rebuild
// timeout, which may be unlimited.
func (c *Client) callContext(ctx context.Context, method string) (context.Context, context.CancelFunc) {
	if method != MethodRebuild {
		return context.WithTimeout(ctx, c.timeout)
	}
	if c.rebuild > 0 {
		return context.WithTimeout(ctx, c.rebuild)
	}
	return context.WithCancel(ctx)
}

// send writes the header byte followed by the request.
func (c *Client) send(w io.Writer, req Request) error {
	if _, err := w.Write([]byte{c.format.header()}); err != nil {
		return fmt.Errorf("failed to send header: %w", err)
	}
	if err := c.format.writeMessage(w, req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads the response.
func (c *Client) receive(r io.Reader) (*Response, error) {
	var resp Response
	if err := c.format.readMessage(r, &resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// nextID generates the next request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
