package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

var (
	// ErrHostNotRunning is returned by Dial when no host listens on the socket.
	ErrHostNotRunning = errors.New("host not running")
	// ErrSocketInUse is returned when another host already serves the socket.
	ErrSocketInUse = errors.New("control socket in use")
)

const defaultSubscriberWriteTimeout = 2 * time.Second

// ControlServer accepts local CLI connections on a unix socket. It speaks the
// same framing and envelopes as the native messaging channel.
type ControlServer struct {
	path   string
	codec  *Codec
	router *Router
	events *Broadcaster
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewControlServer creates a control server for socketPath.
func NewControlServer(socketPath string, codec *Codec, router *Router, events *Broadcaster, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		path:   socketPath,
		codec:  codec,
		router: router,
		events: events,
		logger: logger,
	}
}

// Path returns the socket path.
func (s *ControlServer) Path() string {
	return s.path
}

// Listen binds the socket. A socket file left by a dead host is replaced.
func (s *ControlServer) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := removeStaleSocket(s.path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is canceled. Closing a unix
// listener unlinks its socket file, so a successor can bind right away.
func (s *ControlServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("control socket listening", zap.String("path", s.path))
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept: %w", err)
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// ListenAndServe binds the socket and serves until ctx is canceled.
func (s *ControlServer) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *ControlServer) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	fc := newFrameConn(conn, s.codec)
	fc.writeTimeout = defaultSubscriberWriteTimeout

	var remove func()
	defer func() {
		if remove != nil {
			remove()
		}
	}()

	err := serveFrames(ctx, conn, fc, s.codec, s.router, s.logger, func() {
		if remove == nil {
			remove = s.events.Add(fc)
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("control connection closed", zap.Error(err))
	}
}

func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path exists but is not a socket: %s", path)
	}
	if IsSocketListening(path) {
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	return os.Remove(path)
}

// IsSocketListening checks if a host already listens on path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Client is a control socket connection used by the CLI.
// Not safe for concurrent use.
type Client struct {
	conn  net.Conn
	codec *Codec
}

// Dial connects to the host listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrHostNotRunning, socketPath)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, codec: codec}, nil
}

// Call sends cmd and decodes the result into out (which may be nil). Events
// that arrive before the response are skipped.
func (c *Client) Call(ctx context.Context, cmd domain.Command, out any) error {
	id := uuid.NewString()
	data, err := c.codec.EncodeRequest(id, cmd)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, id, data)
	if err != nil {
		return err
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", cmd.CommandName(), err)
		}
	}
	return nil
}

// Subscribe registers for events and calls fn for each one until ctx is
// canceled or the host goes away.
func (c *Client) Subscribe(ctx context.Context, fn func(EventMessage)) error {
	id := uuid.NewString()
	data, err := c.codec.EncodeSubscribe(id)
	if err != nil {
		return err
	}
	if _, err := c.roundTrip(ctx, id, data); err != nil {
		return err
	}
	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		_, ev, err := c.codec.DecodeMessage(frame)
		if err != nil {
			return err
		}
		if ev != nil {
			fn(*ev)
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, id string, data []byte) (*Response, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := WriteFrame(c.conn, data); err != nil {
		return nil, err
	}
	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		resp, _, err := c.codec.DecodeMessage(frame)
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.ID != id {
			continue
		}
		if !resp.OK {
			return nil, &RemoteError{Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
