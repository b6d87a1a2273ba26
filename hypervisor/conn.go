package hypervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/logging"
)

// DefaultDialTimeout bounds the initial TCP connect.
const DefaultDialTimeout = 5 * time.Second

// Conn is a Channel over a TCP connection to the hypervisor. The
// connection is dialled lazily on first use. After a timeout or I/O
// failure the connection is dropped and the next Send redials, so a
// late reply can never be read as the answer to a different command.
type Conn struct {
	addr           string
	dialTimeout    time.Duration
	commandTimeout time.Duration
	logger         *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Option configures a Conn.
type Option func(*Conn)

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) { c.dialTimeout = d }
}

// WithCommandTimeout bounds each exchange. Zero leaves only the
// caller's deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Conn) { c.commandTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// NewConn returns a Conn for the hypervisor listening on addr
// (host:port). No connection is made until the first Send.
func NewConn(addr string, opts ...Option) *Conn {
	c := &Conn{
		addr:        addr,
		dialTimeout: DefaultDialTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "hypervisor", "addr", addr)
	return c
}

// Addr returns the hypervisor address.
func (c *Conn) Addr() string { return c.addr }

// Send writes command and reads its reply block. The context deadline,
// if any, applies to the whole exchange; cancelling ctx aborts a
// pending exchange.
func (c *Conn) Send(ctx context.Context, command string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, err)
	}
	if c.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
	}

	if err := c.ensureConnected(ctx); err != nil {
		return Response{}, fmt.Errorf("%w: connect to %s: %w", hvman.ErrChannel, c.addr, err)
	}

	start := time.Now()
	resp, err := c.exchange(ctx, command)
	if err != nil {
		var cmdErr *hvman.CommandError
		if !errors.As(err, &cmdErr) {
			// The stream position is unknown; start afresh next time.
			c.dropLocked()
		}
		c.logger.Debug("command failed", "command", command, "error", err)
		return Response{}, err
	}

	c.logger.Log(ctx, logging.LevelTrace.ToSlog(), "command", "command", command, "lines", len(resp.Lines), "duration", time.Since(start))
	return resp, nil
}

func (c *Conn) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.logger.Debug("connected to hypervisor")
	return nil
}

func (c *Conn) exchange(ctx context.Context, command string) (Response, error) {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return Response{}, fmt.Errorf("%w: set deadline: %w", hvman.ErrChannel, err)
		}
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	// Unblock the read if ctx is cancelled mid-exchange. A callback
	// that has already started must finish before the next exchange
	// sets its own deadline.
	conn := c.conn
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	if _, err := c.conn.Write([]byte(command + "\r\n")); err != nil {
		return Response{}, c.ioError(ctx, command, err)
	}

	// The whole block is consumed even after an error code so that
	// none of it is left for the next command to read.
	var resp Response
	var failed *replyLine
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return Response{}, c.ioError(ctx, command, err)
		}
		rl, err := parseReplyLine(line)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, err)
		}
		if rl.code >= 200 && (failed == nil || rl.final) {
			failed = &rl
		}
		if failed != nil {
			if !rl.final {
				continue
			}
			return Response{}, &hvman.CommandError{Command: command, Code: failed.code, Message: failed.text}
		}
		if rl.final {
			resp.Code = rl.code
			if rl.text != "" && rl.text != "OK" {
				resp.Lines = append(resp.Lines, rl.text)
			}
			return resp, nil
		}
		resp.Lines = append(resp.Lines, rl.text)
	}
}

func (c *Conn) ioError(ctx context.Context, command string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, ctxErr)
	}
	// The socket deadline can expire a moment before ctx notices.
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, err)
}

func (c *Conn) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// Close closes the underlying connection, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}
