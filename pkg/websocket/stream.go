// Package websocket provides the long-lived venue stream used by the venue
// clients. A stream connects once and reads until the connection breaks or
// the context is cancelled; transport errors propagate to the supervisor
// rather than triggering a reconnect.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"arb_engine/internal/core"
	"arb_engine/pkg/telemetry"
)

// FrameHandler receives each raw frame in arrival order.
type FrameHandler func(frame []byte) error

// Stream is one websocket connection to a venue.
type Stream struct {
	name   string
	url    string
	header http.Header
	logger core.ILogger

	mu   sync.Mutex
	conn *websocket.Conn

	onConnected func(s *Stream) error

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewStream creates a stream for url. header may be nil for anonymous
// streams.
func NewStream(name, url string, header http.Header, logger core.ILogger) *Stream {
	tracer := telemetry.GetTracer("ws-stream")
	meter := telemetry.GetMeter("ws-stream")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of websocket frames received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of websocket connections initiated"))

	return &Stream{
		name:        name,
		url:         url,
		header:      header,
		logger:      logger.WithField("stream", name),
		tracer:      tracer,
		msgCounter:  msgCounter,
		connCounter: connCounter,
	}
}

// SetOnConnected sets a callback invoked once the connection is
// established, before the read loop starts. Subscription frames are sent
// from here; venues require the subscribe within seconds of connecting.
func (s *Stream) SetOnConnected(fn func(s *Stream) error) {
	s.onConnected = fn
}

// Send writes a JSON message on the connection.
func (s *Stream) Send(message interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream %s: not connected", s.name)
	}
	return s.conn.WriteJSON(message)
}

// Run dials, subscribes, and reads frames into handler until the context is
// cancelled or the connection fails. Frames are delivered in arrival order
// on a single goroutine.
func (s *Stream) Run(ctx context.Context, handler FrameHandler) error {
	ctx, span := s.tracer.Start(ctx, "ws connect",
		trace.WithAttributes(attribute.String("ws.url", s.url)),
	)
	s.connCounter.Add(ctx, 1)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		span.RecordError(err)
		span.End()
		if resp != nil {
			return fmt.Errorf("stream %s: dial %s: status %d: %w", s.name, s.url, resp.StatusCode, err)
		}
		return fmt.Errorf("stream %s: dial %s: %w", s.name, s.url, err)
	}
	span.End()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-done:
		}
	}()

	if s.onConnected != nil {
		if err := s.onConnected(s); err != nil {
			return fmt.Errorf("stream %s: on-connect: %w", s.name, err)
		}
	}

	s.logger.Info("stream connected", "url", s.url)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream %s: read: %w", s.name, err)
		}
		s.msgCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", s.name)))
		if err := handler(frame); err != nil {
			return err
		}
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
