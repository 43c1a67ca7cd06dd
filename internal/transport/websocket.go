package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kelsos/taskwatch/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512 * 1024

	sendQueueSize = 64
)

var _ Transport = (*WebSocket)(nil)

// WebSocket is a Transport over a gorilla/websocket client connection. Each
// Connect starts a new session; only the latest session reports to its
// Handler.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	current *session
}

type Option func(*WebSocket)

// WithHeader sets extra headers sent with the websocket handshake.
func WithHeader(header http.Header) Option {
	return func(w *WebSocket) {
		w.header = header
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(w *WebSocket) {
		w.dialer = dialer
	}
}

// NewWebSocket creates a transport for the given ws:// or wss:// endpoint.
// The URL is validated by Connect.
func NewWebSocket(rawURL string, opts ...Option) *WebSocket {
	w := &WebSocket{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		},
		log: logger.Component("transport"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

type session struct {
	handler   Handler
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]AckFunc
}

func (w *WebSocket) Connect(ctx context.Context, h Handler) error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	s := &session{
		handler: h,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		pending: make(map[string]AckFunc),
	}

	w.mu.Lock()
	previous := w.current
	w.current = s
	w.mu.Unlock()

	if previous != nil {
		previous.release()
		previous.terminate(ErrClosed)
	}

	go w.dial(ctx, s, u.String())
	return nil
}

func (w *WebSocket) dial(ctx context.Context, s *session, target string) {
	w.log.Debug().Str("url", target).Msg("dialing status endpoint")

	conn, resp, err := w.dialer.DialContext(ctx, target, w.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.terminate(fmt.Errorf("dial %s: %w", target, err))
		return
	}

	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	select {
	case <-s.done:
		// Closed or superseded while dialing.
		s.mu.Unlock()
		conn.Close()
		return
	default:
	}
	s.conn = conn
	handler := s.handler
	s.mu.Unlock()

	go w.writeLoop(s, conn)
	go w.readLoop(s, conn)

	if handler != nil {
		handler.HandleOpen()
	}
}

func (w *WebSocket) readLoop(s *session, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.terminate(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}

		switch frame.Type {
		case FrameAck:
			if ack := s.takeAck(frame.ID); ack != nil {
				ack(frame.Data, nil)
			}
		case FrameEvent:
			if frame.ID != "" {
				s.queueAck(frame.ID)
			}
			if h := s.currentHandler(); h != nil {
				h.HandleEvent(frame.Event, frame.Data)
			}
		default:
			w.log.Warn().Str("type", string(frame.Type)).Msg("discarding frame of unknown type")
		}
	}
}

func (w *WebSocket) writeLoop(s *session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.terminate(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.terminate(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (w *WebSocket) Emit(event string, payload any, ack AckFunc) error {
	w.mu.Lock()
	s := w.current
	w.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	frame := Frame{Type: FrameEvent, Event: event, Data: data}
	if ack != nil {
		frame.ID = uuid.NewString()
	}

	message, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}

	s.mu.Lock()
	if s.conn == nil || s.pending == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if ack != nil {
		s.pending[frame.ID] = ack
	}
	s.mu.Unlock()

	select {
	case s.send <- message:
		return nil
	default:
		s.takeAck(frame.ID)
		return ErrSendQueueFull
	}
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	s := w.current
	w.current = nil
	w.mu.Unlock()

	if s == nil {
		return nil
	}

	s.release()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
	}

	s.terminate(ErrClosed)
	return nil
}

// release detaches the handler and drops outstanding acks so nothing is
// reported after an explicit close.
func (s *session) release() {
	s.mu.Lock()
	s.handler = nil
	s.pending = nil
	s.mu.Unlock()
}

func (s *session) terminate(cause error) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		pending := s.pending
		s.pending = nil
		handler := s.handler
		s.handler = nil
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}

		for _, ack := range pending {
			ack(nil, fmt.Errorf("%w: %v", ErrClosed, cause))
		}

		if handler != nil {
			handler.HandleClose(cause)
		}
	})
}

func (s *session) takeAck(id string) AckFunc {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ack, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return ack
}

func (s *session) queueAck(id string) {
	message, err := json.Marshal(Frame{Type: FrameAck, ID: id})
	if err != nil {
		return
	}

	select {
	case s.send <- message:
	default:
	}
}

func (s *session) currentHandler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}
