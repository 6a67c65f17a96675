package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/uhmm/internal/broadcast"
	"github.com/ppiankov/uhmm/internal/model"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 << 10
)

// wsTransport adapts a WebSocket connection to broadcast.Transport.
// gorilla connections allow one concurrent writer, so writes are serialized.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Send writes one text frame. A failed write leaves a gorilla connection
// unusable, so every write error is reported as a closed transport.
func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	return t.write(ctx, websocket.TextMessage, frame)
}

func (t *wsTransport) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return t.write(ctx, websocket.PingMessage, nil)
}

func (t *wsTransport) write(ctx context.Context, messageType int, data []byte) error {
	if t.closed.Load() {
		return model.ErrTransportClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransportClosed, err)
	}
	if err := t.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransportClosed, err)
	}
	return nil
}

// Close sends a close frame when possible and releases the connection
func (t *wsTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.mu.Unlock()

	return t.conn.Close()
}

// clientMessage is any message a viewer sends upstream
type clientMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
	Text     string `json:"text,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		http.Error(w, "broadcaster unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	transport := newWSTransport(conn)
	session, err := s.deps.Broadcaster.Subscribe(transport)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting viewer")
		_ = transport.Close()
		return
	}

	go s.keepalive(transport, session)
	s.readLoop(conn, session)
	s.deps.Broadcaster.Unsubscribe(session.ID)
}

// keepalive pings the viewer until the session ends
func (s *Server) keepalive(t *wsTransport, session *broadcast.Session) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				s.log.Debug().Err(err).Str("session", session.ID).Msg("ping failed")
				s.deps.Broadcaster.Unsubscribe(session.ID)
				return
			}
		}
	}
}

// readLoop handles client messages until the connection fails
func (s *Server) readLoop(conn *websocket.Conn, session *broadcast.Session) {
	conn.SetReadLimit(maxMessageSize)
	if s.cfg.PingInterval > 0 {
		timeout := 2 * s.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("session", session.ID).Msg("websocket read failed")
			}
			return
		}
		if s.cfg.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug().Err(err).Str("session", session.ID).Msg("ignoring malformed client message")
			continue
		}
		s.handleClientMessage(session, msg)
	}
}

func (s *Server) handleClientMessage(session *broadcast.Session, msg clientMessage) {
	switch msg.Type {
	case "ping":
		if err := session.Send(broadcast.PongEvent{Timestamp: s.deps.Now()}); err != nil {
			s.log.Debug().Err(err).Str("session", session.ID).Msg("sending pong")
		}

	case "connection":
		session.SetMeta("client_id", msg.ClientID)
		session.SetMeta("platform", msg.Platform)
		session.SetMeta("version", msg.Version)
		s.log.Info().
			Str("session", session.ID).
			Str("client_id", msg.ClientID).
			Str("platform", msg.Platform).
			Str("version", msg.Version).
			Msg("client identified")

	case "test_transcript":
		text, speaker, err := normalizeTestTranscript(msg.Text, msg.Speaker)
		if err != nil {
			s.log.Debug().Err(err).Str("session", session.ID).Msg("ignoring test transcript")
			return
		}
		if err := s.injectTranscript(context.Background(), text, speaker); err != nil {
			s.log.Warn().Err(err).Str("session", session.ID).Msg("injecting test transcript")
		}

	default:
		s.log.Debug().Str("session", session.ID).Str("type", msg.Type).Msg("unknown client message type")
	}
}
