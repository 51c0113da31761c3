// Package marketdata streams live quotes from a websocket quote server into
// handler callbacks. The stream owns the connection lifecycle: it subscribes
// after each (re)connect and keeps reconnecting with backoff until its
// context is cancelled or Close is called.
package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long the server has to answer a ping.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before a reconnect attempt.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnect backoff.
	maxReconnectDelay = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// TickHandler receives decoded ticks.
type TickHandler func(tick types.Tick)

// subscribeFrame is the first message sent on every connection.
type subscribeFrame struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// wireTick is the server's tick message shape.
type wireTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Size   float64 `json:"size"`
	Time   int64   `json:"time"`
}

// ConnectionHandler is notified when the stream connects or drops.
type ConnectionHandler func(connected bool)

// TickStream is a websocket quote subscriber.
type TickStream struct {
	url       string
	symbols   []string
	onTick    TickHandler
	onConnect ConnectionHandler
	logger    *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewTickStream creates a stream for the given symbols. The tick handler is
// called from the read loop; it must not block.
func NewTickStream(url string, symbols []string, onTick TickHandler, log *logger.Logger) *TickStream {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &TickStream{
		url:     url,
		symbols: symbols,
		onTick:  onTick,
		logger:  log.Named("tickstream"),
		done:    make(chan struct{}),
	}
}

// OnConnectionChange registers a connection state callback. Must be called
// before Run.
func (s *TickStream) OnConnectionChange(handler ConnectionHandler) {
	s.onConnect = handler
}

// Run connects, subscribes, and pumps ticks until the context is cancelled
// or Close is called. Dropped connections are retried with exponential
// backoff.
func (s *TickStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return errors.New(errors.ErrCodeSubscriptionFailed, "no symbols to subscribe")
	}

	delay := reconnectDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-s.done:
			return nil
		default:
		}

		s.logger.Warn("tick stream disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection handles one connection: dial, subscribe, read until error.
func (s *TickStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "failed to dial %s", s.url)
	}
	defer conn.Close()

	if err := s.subscribe(conn); err != nil {
		return err
	}

	s.logger.Info("tick stream subscribed",
		zap.String("url", s.url),
		zap.Int("symbols", len(s.symbols)))
	s.notifyConnection(true)
	defer s.notifyConnection(false)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The ping loop stops when the connection dies or the stream shuts down.
	pingDone := make(chan struct{})
	defer close(pingDone)

	go s.pingLoop(conn, pingDone)

	// Unblock the read loop on cancellation.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-pingDone:
			return
		}

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}()

	return s.readLoop(ctx, conn)
}

func (s *TickStream) subscribe(conn *websocket.Conn) error {
	frame := subscribeFrame{Type: "subscribe", Symbols: s.symbols}

	raw, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSubscriptionFailed, "failed to marshal subscribe frame", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(errors.ErrCodeSubscriptionFailed, "failed to send subscribe frame", err)
	}

	return nil
}

func (s *TickStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			default:
			}

			return errors.Wrap(errors.ErrCodeFeedUnavailable, "read failed", err)
		}

		s.handleMessage(message)
	}
}

// handleMessage decodes a tick frame and hands it to the handler. Frames that
// do not parse as ticks are dropped with a debug log.
func (s *TickStream) handleMessage(raw []byte) {
	var wire wireTick
	if err := json.Unmarshal(raw, &wire); err != nil || wire.Symbol == "" {
		s.logger.Debug("dropping unparseable frame", zap.ByteString("frame", raw))

		return
	}

	tick := types.Tick{
		Symbol: wire.Symbol,
		Bid:    wire.Bid,
		Ask:    wire.Ask,
		Last:   wire.Last,
		Size:   wire.Size,
		Time:   time.UnixMilli(wire.Time).UTC(),
	}

	if s.onTick != nil {
		s.onTick(tick)
	}
}

func (s *TickStream) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *TickStream) notifyConnection(connected bool) {
	if s.onConnect != nil {
		s.onConnect(connected)
	}
}

// Close stops the stream. Safe to call more than once.
func (s *TickStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
