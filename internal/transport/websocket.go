package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultFrameBuffer  = 128
	errorBuffer         = 4
)

// WebsocketOptions tunes the live transport.
type WebsocketOptions struct {
	// Venue tags errors and log entries.
	Venue string
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
	// SendInterval paces outbound frames; venues throttle request bursts.
	// Zero disables pacing.
	SendInterval time.Duration
	// FrameBuffer sizes the inbound frame channel.
	FrameBuffer int
}

// Websocket is the live Transport over a venue websocket.
type Websocket struct {
	venue        string
	writeTimeout time.Duration
	frameBuffer  int
	limiter      *rate.Limiter

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan []byte
	errc   chan error
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// NewWebsocket creates a live transport; Open must be called before use.
func NewWebsocket(opts WebsocketOptions) *Websocket {
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	frameBuffer := opts.FrameBuffer
	if frameBuffer <= 0 {
		frameBuffer = defaultFrameBuffer
	}
	var limiter *rate.Limiter
	if opts.SendInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.SendInterval), 1)
	}
	return &Websocket{
		venue:        opts.Venue,
		writeTimeout: writeTimeout,
		frameBuffer:  frameBuffer,
		limiter:      limiter,
	}
}

// Open dials the endpoint and starts the read pump.
func (w *Websocket) Open(ctx context.Context, endpoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return errs.New(w.venue, errs.CodeState, errs.WithMessage("transport already open"))
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return errs.New(w.venue, errs.CodeConnection,
			errs.WithMessage(fmt.Sprintf("dial %s", endpoint)),
			errs.WithCause(err))
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	w.conn = conn
	w.frames = make(chan []byte, w.frameBuffer)
	w.errc = make(chan error, errorBuffer)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.readPump(pumpCtx, conn, w.frames, w.errc, w.done)
	return nil
}

// readPump drains the socket into the frame channel until the connection
// drops or the transport closes.
func (w *Websocket) readPump(ctx context.Context, conn *websocket.Conn, frames chan<- []byte, errc chan<- error, done chan struct{}) {
	defer close(done)
	defer close(frames)
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case errc <- errs.New(w.venue, errs.CodeConnection,
				errs.WithMessage("read"), errs.WithCause(err)):
			default:
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes one frame, serializing concurrent writers and pacing when
// configured.
func (w *Websocket) Send(ctx context.Context, frame []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errs.New(w.venue, errs.CodeConnection, errs.WithMessage("transport not open"))
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return errs.New(w.venue, errs.CodeConnection,
				errs.WithMessage("send pacing"), errs.WithCause(err))
		}
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return errs.New(w.venue, errs.CodeConnection,
			errs.WithMessage("write"), errs.WithCause(err))
	}
	return nil
}

// Frames returns the inbound frame channel for the current connection.
func (w *Websocket) Frames() <-chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Errors returns the asynchronous failure channel for the current connection.
func (w *Websocket) Errors() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errc
}

// Close tears down the connection and waits for the read pump to exit.
func (w *Websocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	cancel := w.cancel
	done := w.done
	w.conn = nil
	w.cancel = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	err := conn.Close(websocket.StatusNormalClosure, "shutdown")
	if done != nil {
		<-done
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.Log().Debug("websocket close",
			observability.F("venue", w.venue),
			observability.F("error", err))
	}
	return nil
}
