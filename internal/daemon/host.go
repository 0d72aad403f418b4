package daemon

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// frameConn writes responses and events to one peer. Writes are serialized so
// events published from the router never interleave with a response.
type frameConn struct {
	mu    sync.Mutex
	w     io.Writer
	codec *Codec

	// writeTimeout bounds each write when w supports deadlines, so a
	// subscriber that stops reading cannot stall the router.
	writeTimeout time.Duration
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func newFrameConn(w io.Writer, codec *Codec) *frameConn {
	return &frameConn{w: w, codec: codec}
}

func (c *frameConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.w.(writeDeadliner); ok && c.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return WriteFrame(c.w, data)
}

// Send implements EventSink.
func (c *frameConn) Send(_ context.Context, event domain.Event) error {
	data, err := c.codec.EncodeEvent(event)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *frameConn) respond(id string, value any, err error) error {
	data, encErr := c.codec.EncodeResponse(id, value, err)
	if encErr != nil {
		data, encErr = c.codec.EncodeResponse(id, nil, encErr)
		if encErr != nil {
			return encErr
		}
	}
	return c.write(data)
}

// serveFrames answers requests read from in until end of stream. subscribe is
// called for Subscribe requests; nil means subscriptions are implicit.
func serveFrames(
	ctx context.Context,
	in io.Reader,
	conn *frameConn,
	codec *Codec,
	router *Router,
	logger *zap.Logger,
	subscribe func(),
) error {
	for {
		data, err := ReadFrame(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ErrFrameTooLarge) {
				// The stream cannot be resynchronized after a bad length.
				_ = conn.respond("", nil, err)
			}
			return err
		}

		req, err := codec.DecodeRequest(data)
		if err != nil {
			logger.Warn("rejected message", zap.String("id", req.ID), zap.Error(err))
			if werr := conn.respond(req.ID, nil, err); werr != nil {
				return werr
			}
			continue
		}

		if req.Subscribe {
			if subscribe != nil {
				subscribe()
			}
			if werr := conn.respond(req.ID, nil, nil); werr != nil {
				return werr
			}
			continue
		}

		value, err := router.Submit(ctx, req.Command)
		if errors.Is(err, ErrRouterStopped) || ctx.Err() != nil {
			return nil
		}
		if werr := conn.respond(req.ID, value, err); werr != nil {
			return werr
		}
	}
}

// NativeHost serves the browser extension over the native messaging stdio
// channel. Stdout carries frames only; logs go elsewhere.
type NativeHost struct {
	codec  *Codec
	router *Router
	events *Broadcaster
	logger *zap.Logger
}

// NewNativeHost creates a stdio host.
func NewNativeHost(codec *Codec, router *Router, events *Broadcaster, logger *zap.Logger) *NativeHost {
	return &NativeHost{
		codec:  codec,
		router: router,
		events: events,
		logger: logger,
	}
}

// Serve answers requests from in on out and forwards every event to out.
// It returns nil when the browser closes in.
func (h *NativeHost) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	conn := newFrameConn(out, h.codec)
	remove := h.events.Add(conn)
	defer remove()

	h.logger.Info("native messaging host serving")
	err := serveFrames(ctx, in, conn, h.codec, h.router, h.logger, nil)
	h.logger.Info("native messaging host stopped", zap.Error(err))
	return err
}

// Ensure frameConn implements EventSink.
var _ EventSink = (*frameConn)(nil)
