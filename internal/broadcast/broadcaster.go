package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/telemetry"
)

// ErrClosed is returned by Publish and Subscribe after Close
var ErrClosed = errors.New("broadcaster closed")

// Transport delivers encoded frames to one viewer. Send returns
// model.ErrTransportClosed once the peer is gone.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Options tunes per-session delivery
type Options struct {
	QueueSize      int
	OverflowPolicy string // model.DropOldest or model.DropNewest
	MaxSendRetries int
	SendTimeout    time.Duration
	RetryBackoff   time.Duration
}

// OptionsFromConfig builds Options from the runtime configuration
func OptionsFromConfig(cfg model.BroadcastConfig) Options {
	return Options{
		QueueSize:      cfg.QueueSize,
		OverflowPolicy: cfg.OverflowPolicy,
		MaxSendRetries: cfg.MaxSendRetries,
		SendTimeout:    cfg.SendTimeout,
	}
}

// Broadcaster fans events out to viewer sessions. Publish never blocks on
// a slow viewer: each session has its own bounded queue and writer.
type Broadcaster struct {
	opts    Options
	metrics *telemetry.Metrics
	log     *logger.Logger
	now     func() time.Time

	pubMu    sync.Mutex // serializes Publish so every queue sees the same order
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	seq      atomic.Uint64
}

// New creates a broadcaster. metrics may be nil.
func New(opts Options, metrics *telemetry.Metrics) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.OverflowPolicy == "" {
		opts.OverflowPolicy = model.DropOldest
	}
	if opts.MaxSendRetries < 0 {
		opts.MaxSendRetries = 0
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 2 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}

	return &Broadcaster{
		opts:     opts,
		metrics:  metrics,
		log:      logger.Named("broadcast"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Subscribe registers a viewer and queues its connected acknowledgment
func (b *Broadcaster) Subscribe(t Transport) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: b.now(),
		transport:   t,
		b:           b,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		meta:        make(map[string]string),
	}

	ack, err := Encode(Connected(s.ConnectedAt))
	if err != nil {
		return nil, err
	}
	s.enqueue(frame{data: ack, ack: true}, b.opts)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.sessions[s.ID] = s
	count := len(b.sessions)
	b.mu.Unlock()

	go s.writeLoop()

	b.metrics.SessionOpened(context.Background())
	b.log.Info().Str("session", s.ID).Int("viewers", count).Msg("viewer connected")
	return s, nil
}

// Unsubscribe removes a session and closes its transport. It reports
// whether the session was registered.
func (b *Broadcaster) Unsubscribe(id string) bool {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	count := len(b.sessions)
	b.mu.Unlock()

	if !ok {
		return false
	}

	s.shutdown()
	b.metrics.SessionClosed(context.Background())
	b.log.Info().Str("session", id).Int("viewers", count).Msg("viewer disconnected")
	return true
}

// Publish enqueues e on every connected session
func (b *Broadcaster) Publish(e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	sessions, ok := b.snapshot()
	if !ok {
		return ErrClosed
	}

	f := frame{seq: b.seq.Add(1), data: data}
	for _, s := range sessions {
		if s.enqueue(f, b.opts) {
			b.metrics.Dropped(context.Background(), b.opts.OverflowPolicy)
		}
	}
	return nil
}

// snapshot copies the session set so fan-out runs without holding mu
func (b *Broadcaster) snapshot() ([]*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false
	}
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out, true
}

// Count returns the number of connected sessions
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Close stops accepting events, gives each session until ctx is done to
// deliver what it has queued, then unsubscribes everyone
func (b *Broadcaster) Close(ctx context.Context) {
	b.pubMu.Lock()
	b.mu.Lock()
	b.closed = true
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	b.pubMu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.drain(ctx)
			b.Unsubscribe(s.ID)
		}(s)
	}
	wg.Wait()
}

type frame struct {
	seq   uint64        // 0 for direct replies
	data  []byte        // nil for drain markers
	flush chan struct{} // closed by the writer when a drain marker is reached
	ack   bool          // connected acknowledgment
}

// pinned frames are never evicted on overflow
func (f frame) pinned() bool {
	return f.ack || f.flush != nil
}

// Session is one connected viewer
type Session struct {
	ID          string
	ConnectedAt time.Time

	transport Transport
	b         *Broadcaster
	lastSeen  atomic.Uint64

	mu     sync.Mutex
	queue  []frame
	meta   map[string]string
	notify chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Send queues a direct reply for this session only
func (s *Session) Send(e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return model.ErrTransportClosed
	default:
	}
	if s.enqueue(frame{data: data}, s.b.opts) {
		s.b.metrics.Dropped(context.Background(), s.b.opts.OverflowPolicy)
	}
	return nil
}

// LastSeenSeq returns the sequence number of the last broadcast event
// delivered to this session
func (s *Session) LastSeenSeq() uint64 {
	return s.lastSeen.Load()
}

// SetMeta stores client-reported metadata such as client_id or platform
func (s *Session) SetMeta(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
}

// Meta returns a client-reported metadata value
func (s *Session) Meta(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[key]
}

// Done is closed once the session is unsubscribed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue adds f to the queue and reports whether an event was dropped.
// The connected ack and drain markers are never evicted.
func (s *Session) enqueue(f frame, opts Options) (dropped bool) {
	s.mu.Lock()
	if !f.pinned() && len(s.queue) >= opts.QueueSize {
		dropped = true
		victim := -1
		if opts.OverflowPolicy != model.DropNewest {
			victim = s.oldestEvictable()
		}
		if victim < 0 {
			s.mu.Unlock()
			return dropped
		}
		s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Session) oldestEvictable() int {
	for i, f := range s.queue {
		if !f.pinned() {
			return i
		}
	}
	return -1
}

func (s *Session) pop() (frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return frame{}, false
	}
	f := s.queue[0]
	s.queue[0] = frame{}
	s.queue = s.queue[1:]
	return f, true
}

// writeLoop delivers queued frames in FIFO order until the session ends
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			f, ok := s.pop()
			if !ok {
				break
			}
			if f.flush != nil {
				close(f.flush)
				continue
			}
			if err := s.deliver(f.data); err != nil {
				terr := &model.TransportError{SessionID: s.ID, Err: err}
				s.b.log.Warn().
					Err(terr).
					Bool("closed", terr.Closed()).
					Str("session", s.ID).
					Msg("dropping viewer after failed send")
				s.b.Unsubscribe(s.ID)
				return
			}
			if f.seq > 0 {
				s.lastSeen.Store(f.seq)
			}
		}
	}
}

// deliver sends one frame, retrying transient failures
func (s *Session) deliver(data []byte) error {
	opts := s.b.opts
	var err error

	for attempt := 0; attempt <= opts.MaxSendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryBackoff * time.Duration(attempt)):
			case <-s.done:
				return model.ErrTransportClosed
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.SendTimeout)
		err = s.transport.Send(ctx, data)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrTransportClosed) {
			return err
		}
		s.b.log.Debug().Err(err).Str("session", s.ID).Int("attempt", attempt+1).Msg("send failed")
	}
	return err
}

// drain waits until everything queued before the call has been handled
func (s *Session) drain(ctx context.Context) {
	flushed := make(chan struct{})
	s.enqueue(frame{flush: flushed}, s.b.opts)

	select {
	case <-flushed:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.transport.Close(); err != nil {
			s.b.log.Debug().Err(err).Str("session", s.ID).Msg("closing transport")
		}
	})
}
