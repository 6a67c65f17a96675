package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
)

// Transcript is the JSON message published on the STT subjects
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

type sessionEnd struct {
	SessionID string `json:"session_id"`
}

// NATS subscribes to speech-to-text subjects on a NATS bus
type NATS struct {
	cfg  model.NATSConfig
	conn *nats.Conn
	log  *logger.Logger
}

// ConnectNATS dials the bus described by cfg
func ConnectNATS(cfg model.NATSConfig) (*NATS, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("no NATS url configured")
	}
	log := logger.Named("nats")

	name := cfg.Name
	if name == "" {
		name = "uhmm"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("connected to NATS")
	return &NATS{cfg: cfg, conn: conn, log: log}, nil
}

// Healthy reports whether the connection is up
func (n *NATS) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Run subscribes to the partial, final and session-end subjects and
// forwards messages to sink until ctx is done. Every subject feeds one
// channel drained by this goroutine, so a session's fragments reach sink in
// publish order.
func (n *NATS) Run(ctx context.Context, sink Sink) error {
	msgs := make(chan *nats.Msg, n.bufferSize())

	var subs []*nats.Subscription
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		_ = n.conn.Drain()
	}()

	for _, subject := range []string{n.cfg.PartialSubject, n.cfg.FinalSubject, n.cfg.EndSubject} {
		if subject == "" {
			continue
		}
		sub, err := n.conn.ChanSubscribe(subject, msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	n.log.Info().
		Str("partial", n.cfg.PartialSubject).
		Str("final", n.cfg.FinalSubject).
		Bool("cumulative", n.cfg.Cumulative).
		Msg("listening for transcripts")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			n.handle(ctx, sink, msg)
		}
	}
}

func (n *NATS) bufferSize() int {
	if n.cfg.BufferSize > 0 {
		return n.cfg.BufferSize
	}
	return 1024
}

func (n *NATS) handle(ctx context.Context, sink Sink, msg *nats.Msg) {
	subject := msg.Subject
	if msg.Sub != nil {
		subject = msg.Sub.Subject
	}

	switch subject {
	case n.cfg.EndSubject:
		n.endSession(ctx, sink, msg)
	case n.cfg.FinalSubject:
		n.fragment(ctx, sink, msg, true)
	default:
		n.fragment(ctx, sink, msg, false)
	}
}

func (n *NATS) fragment(ctx context.Context, sink Sink, msg *nats.Msg, final bool) {
	var t Transcript
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		n.log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to decode transcript")
		return
	}
	if t.SessionID == "" {
		t.SessionID = "default"
	}

	err := sink.Ingest(ctx, model.TranscriptFragment{
		SessionID:       t.SessionID,
		Text:            t.Text,
		Speaker:         t.Speaker,
		IsFinal:         final && !t.Partial,
		Cumulative:      n.cfg.Cumulative,
		SourceTimestamp: t.Timestamp,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("session", t.SessionID).Msg("failed to ingest transcript")
	}
}

func (n *NATS) endSession(ctx context.Context, sink Sink, msg *nats.Msg) {
	var e sessionEnd
	if err := json.Unmarshal(msg.Data, &e); err != nil || e.SessionID == "" {
		n.log.Warn().Err(err).Str("subject", msg.Subject).Msg("invalid session end message")
		return
	}
	if err := sink.EndSession(ctx, e.SessionID); err != nil {
		n.log.Warn().Err(err).Str("session", e.SessionID).Msg("failed to end session")
	}
}
