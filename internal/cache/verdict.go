package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ppiankov/uhmm/internal/model"
)

// ErrTokenResolved is returned when a reservation was already completed or failed
var ErrTokenResolved = errors.New("cache: reservation already resolved")

// Outcome of a GetOrReserve call
type Outcome int

const (
	Hit      Outcome = iota + 1 // A completed verdict exists
	Reserved                    // Caller owns the verification
	InFlight                    // Another caller is verifying this key
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Reserved:
		return "reserved"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// State of a cache entry
type State int

const (
	StatePending State = iota + 1
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Token proves ownership of a Pending reservation
type Token struct {
	key model.CacheKey
	id  uint64
}

// Key returns the reserved cache key
func (t Token) Key() model.CacheKey { return t.key }

// Entry is a snapshot of one key's verification state
type Entry struct {
	State       State
	RequestedAt time.Time     // Set while pending
	Verdict     model.Verdict // Set once completed
}

// Lookup is the result of GetOrReserve
type Lookup struct {
	Outcome Outcome
	Verdict model.Verdict // Valid for Hit
	Token   Token         // Valid for Reserved

	pending *pendingEntry
}

// Wait blocks until the in-flight verification resolves or ctx is done.
// For a Hit it returns the cached verdict immediately.
func (l Lookup) Wait(ctx context.Context) (model.Verdict, error) {
	switch l.Outcome {
	case Hit:
		return l.Verdict, nil
	case InFlight:
		select {
		case <-l.pending.done:
			return l.pending.verdict, l.pending.err
		case <-ctx.Done():
			return model.Verdict{}, ctx.Err()
		}
	default:
		return model.Verdict{}, errors.New("cache: nothing to wait for on a reservation")
	}
}

type pendingEntry struct {
	id          uint64
	requestedAt time.Time
	done        chan struct{}
	verdict     model.Verdict
	err         error
}

// VerdictCache deduplicates verification work per claim key. Completed
// verdicts live in a bounded LRU with TTL; pending reservations are kept
// apart from it and are never evicted.
type VerdictCache struct {
	mu        sync.Mutex
	completed *expirable.LRU[model.CacheKey, model.Verdict]
	pending   map[model.CacheKey]*pendingEntry
	nextID    uint64
	now       func() time.Time
}

// NewVerdictCache creates a cache holding at most maxEntries completed
// verdicts, each for at most ttl
func NewVerdictCache(maxEntries int, ttl time.Duration) *VerdictCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &VerdictCache{
		completed: expirable.NewLRU[model.CacheKey, model.Verdict](maxEntries, nil, ttl),
		pending:   make(map[model.CacheKey]*pendingEntry),
		now:       time.Now,
	}
}

// GetOrReserve atomically returns a completed verdict, reserves the key
// for the caller, or reports that another caller holds the reservation
func (c *VerdictCache) GetOrReserve(key model.CacheKey) Lookup {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.completed.Get(key); ok {
		return Lookup{Outcome: Hit, Verdict: v}
	}
	if p, ok := c.pending[key]; ok {
		return Lookup{Outcome: InFlight, pending: p}
	}

	c.nextID++
	p := &pendingEntry{
		id:          c.nextID,
		requestedAt: c.now(),
		done:        make(chan struct{}),
	}
	c.pending[key] = p
	return Lookup{Outcome: Reserved, Token: Token{key: key, id: p.id}}
}

// Complete stores the verdict for a reservation and wakes waiters
func (c *VerdictCache) Complete(tok Token, v model.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.take(tok)
	if err != nil {
		return err
	}
	c.completed.Add(tok.key, v)
	p.verdict = v
	close(p.done)
	return nil
}

// Fail drops a reservation so the next caller retries, and wakes waiters
// with err. Failures are not cached.
func (c *VerdictCache) Fail(tok Token, err error) error {
	if err == nil {
		err = errors.New("verification failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, terr := c.take(tok)
	if terr != nil {
		return terr
	}
	p.err = err
	close(p.done)
	return nil
}

// take removes and returns the pending entry matching tok
func (c *VerdictCache) take(tok Token) (*pendingEntry, error) {
	p, ok := c.pending[tok.key]
	if !ok || p.id != tok.id {
		return nil, ErrTokenResolved
	}
	delete(c.pending, tok.key)
	return p, nil
}

// Peek returns the state of key without reserving it or touching recency
func (c *VerdictCache) Peek(key model.CacheKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok {
		return Entry{State: StatePending, RequestedAt: p.requestedAt}, true
	}
	if v, ok := c.completed.Peek(key); ok {
		return Entry{State: StateCompleted, Verdict: v}, true
	}
	return Entry{}, false
}

// Len returns the number of completed and pending entries
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed.Len() + len(c.pending)
}

// Pending returns the number of in-flight reservations
func (c *VerdictCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
