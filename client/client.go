// Package client talks to a processor access server.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// A Client is one connection to a server. Requests on a client must not be
// issued concurrently.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *log.Logger
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// WithLogger makes the client log every frame it sends and receives.
func (c *Client) WithLogger(logger *log.Logger) *Client {
	c.logger = logger
	return c
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one request frame.
func (c *Client) Send(req access.Request) error {
	frame, err := access.EncodeRequest(req)
	if err != nil {
		return err
	}

	return c.SendLine(frame)
}

// SendLine writes a raw frame. A newline is added if missing.
func (c *Client) SendLine(frame []byte) error {
	if len(frame) == 0 || frame[len(frame)-1] != '\n' {
		frame = append(frame, '\n')
	}

	if c.logger != nil {
		c.logger.Printf("Sending request: %s", frame[:len(frame)-1])
	}

	_, err := c.conn.Write(frame)

	return err
}

// Receive reads one response frame.
func (c *Client) Receive(ctx context.Context) (access.Response, error) {
	stop := c.interruptOn(ctx)
	defer stop()

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, err
	}

	if c.logger != nil {
		c.logger.Printf("Received response: %s", line[:len(line)-1])
	}

	return access.DecodeResponse(line)
}

// Do sends a request and waits for its response. An error response is
// returned as an access.ErrorResponse error.
func (c *Client) Do(ctx context.Context, req access.Request) (access.Response, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}

	resp, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}

	if e, ok := resp.(access.ErrorResponse); ok {
		return nil, e
	}

	return resp, nil
}

func (c *Client) success(ctx context.Context, req access.Request) (string, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}

	s, ok := resp.(access.SuccessResponse)
	if !ok {
		return "", fmt.Errorf("%w: expected a success response, got %s",
			sim.ErrProtocol, resp.ResponseType())
	}

	return s.Message, nil
}

// Flash writes the image at path into ROM. The path is made absolute on
// this host, so client and server must share a file system.
func (c *Client) Flash(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return c.success(ctx, access.FlashRequest{Path: abs})
}

// DumpOptions narrow a dump. Nil fields use the server defaults: all of RAM
// from its first address.
type DumpOptions struct {
	Address *uint32
	Bytes   *int
}

// Dump writes RAM into the file at path.
func (c *Client) Dump(
	ctx context.Context,
	path string,
	opts DumpOptions,
) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return c.success(ctx, access.DumpRequest{
		Path:    abs,
		Address: opts.Address,
		Bytes:   opts.Bytes,
	})
}

// Start powers the processor.
func (c *Client) Start(ctx context.Context, singleStep bool) (string, error) {
	return c.success(ctx, access.StartRequest{SingleStep: singleStep})
}

// Stop removes power from the processor.
func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.success(ctx, access.StopRequest{})
}

// Unpause resumes a paused processor.
func (c *Client) Unpause(ctx context.Context) (string, error) {
	return c.success(ctx, access.UnpauseRequest{})
}

// Wait blocks until the processor has stopped or paused, as requested.
func (c *Client) Wait(ctx context.Context, stopped, paused bool) (string, error) {
	return c.success(ctx, access.WaitRequest{Stopped: stopped, Paused: paused})
}

// Status returns a snapshot of the processor.
func (c *Client) Status(ctx context.Context) (processor.Status, error) {
	resp, err := c.Do(ctx, access.StatusRequest{})
	if err != nil {
		return processor.Status{}, err
	}

	s, ok := resp.(access.StatusResponse)
	if !ok {
		return processor.Status{}, fmt.Errorf(
			"%w: expected a status response, got %s",
			sim.ErrProtocol, resp.ResponseType())
	}

	return s.Status, nil
}

// Serial switches the connection to raw mode for the given port. The
// returned stream reads processor output and writes processor input. The
// client must not send further requests afterwards.
func (c *Client) Serial(req access.SerialRequest) (io.ReadWriteCloser, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}

	return &stream{client: c}, nil
}

type stream struct {
	client *Client
}

func (s *stream) Read(p []byte) (int, error) {
	return s.client.reader.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	return s.client.conn.Write(p)
}

func (s *stream) Close() error {
	return s.client.Close()
}

// interruptOn unblocks pending reads when ctx is done.
func (c *Client) interruptOn(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// DefaultLogger returns the logger used by the command line tools.
func DefaultLogger() *log.Logger {
	return log.New(os.Stderr, "[client] ", log.LstdFlags)
}
