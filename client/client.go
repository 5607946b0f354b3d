// Package client connects to a chat server, prints what other peers say
// and sends what the user types.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"tcp-chat/domain"
	chaterr "tcp-chat/errors"
)

const (
	DefaultBufferSize = 1024
	Prompt            = "You: "
)

type Client struct {
	log        *slog.Logger
	conn       net.Conn
	bufferSize int

	closeOnce sync.Once
	closing   atomic.Bool
}

// Connect dials the server once. There is no retry.
func Connect(ctx context.Context, log *slog.Logger, host string, port int) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", chaterr.ErrServerUnreachable, addr, err)
	}
	log.Info("Connected to server", "address", addr, "local", conn.LocalAddr().String())
	return New(log, conn), nil
}

// New wraps an already established connection.
func New(log *slog.Logger, conn net.Conn) *Client {
	return &Client{log: log, conn: conn, bufferSize: DefaultBufferSize}
}

// Receive prints every chunk sent by the server to out as "\n<chunk>\n" until
// the connection ends. A connection closed by Close is not reported as an error.
// The connection is closed when Receive returns.
func (c *Client) Receive(out io.Writer) error {
	defer c.Close()

	buf := make([]byte, c.bufferSize)
	for {
		switch res := domain.ReadChunk(c.conn, buf).(type) {
		case domain.DataReceived:
			if len(res.Payload) == 0 {
				continue
			}
			if _, err := fmt.Fprintf(out, "\n%s\n", res.Payload); err != nil {
				return err
			}
		case domain.PeerClosed:
			c.log.Info("Server closed the connection")
			return nil
		case domain.IOError:
			if c.closing.Load() {
				return nil
			}
			c.log.Error("Connection lost", "error", res.Err)
			return res.Err
		}
	}
}

// Chat reads lines from in and sends each one verbatim, without the newline.
// It writes the prompt to prompt before every line. Sending the exit word
// stops the loop once it has been sent, as does the end of in.
func (c *Client) Chat(in io.Reader, prompt io.Writer) error {
	reader := bufio.NewReader(in)
	for {
		_, _ = io.WriteString(prompt, Prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		if eof && line == "" {
			return nil
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line != "" {
			if err := c.Send([]byte(line)); err != nil {
				return err
			}
		}
		if domain.IsExit(line) {
			c.log.Debug("Exit requested")
			return nil
		}
		if eof {
			return nil
		}
	}
}

func (c *Client) Send(payload []byte) error {
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close is safe to call more than once, only the first call closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close()
	})
	return err
}
