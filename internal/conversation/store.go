// Package conversation holds per-sender dialogue state for the lifetime of
// the process. Nothing here is persisted: a restart forgets every draft and
// history, which is acceptable for a dialogue aid.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shopbot/internal/domain"
)

const (
	defaultMaxHistory = 20
	defaultMaxSenders = 1000
	defaultTTL        = 24 * time.Hour
)

// Turn is one entry of a conversation's turn history.
type Turn struct {
	Role      string // user | assistant
	Text      string
	Timestamp time.Time
}

// Context is the dialogue state for a single sender. The handler is the only
// mutator; the embedded mutex serializes access should per-sender concurrency
// ever be introduced upstream.
type Context struct {
	mu sync.Mutex

	SenderID string
	History  []Turn
	LastSeen time.Time
	Draft    *domain.OrderDraft

	maxHistory int
}

// Lock serializes dialogue steps for this sender.
func (c *Context) Lock()   { c.mu.Lock() }
func (c *Context) Unlock() { c.mu.Unlock() }

// AppendTurn records a turn and evicts the oldest entries beyond the cap.
func (c *Context) AppendTurn(role, text string) {
	max := c.maxHistory
	if max <= 0 {
		// Contexts built outside Store.Get carry no cap.
		max = defaultMaxHistory
	}
	c.History = append(c.History, Turn{Role: role, Text: text, Timestamp: time.Now()})
	if len(c.History) > max {
		c.History = c.History[len(c.History)-max:]
	}
}

// Touch updates the last-interaction timestamp.
func (c *Context) Touch() {
	c.LastSeen = time.Now()
}

// Store maps sender identifiers to their dialogue contexts. Bounded: least
// recently seen contexts are evicted past MaxSenders, and a background sweep
// drops contexts idle longer than TTL.
type Store struct {
	mu       sync.Mutex
	contexts map[string]*Context

	maxHistory int
	maxSenders int
	ttl        time.Duration
	logger     *slog.Logger
}

// StoreConfig tunes a Store. Zero values use 20 turns / 1000 senders / 24h.
type StoreConfig struct {
	MaxHistory int
	MaxSenders int
	TTL        time.Duration
	Logger     *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.MaxSenders <= 0 {
		cfg.MaxSenders = defaultMaxSenders
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		contexts:   make(map[string]*Context),
		maxHistory: cfg.MaxHistory,
		maxSenders: cfg.MaxSenders,
		ttl:        cfg.TTL,
		logger:     cfg.Logger,
	}
}

// Get returns the context for a sender, creating it lazily on first contact.
func (s *Store) Get(senderID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contexts[senderID]; ok {
		c.LastSeen = time.Now()
		return c
	}

	if len(s.contexts) >= s.maxSenders {
		s.evictOldestLocked()
	}

	c := &Context{
		SenderID:   senderID,
		LastSeen:   time.Now(),
		maxHistory: s.maxHistory,
	}
	s.contexts[senderID] = c
	return c
}

// Len returns the number of live contexts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Delete removes a sender's context.
func (s *Store) Delete(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, senderID)
}

// evictOldestLocked drops the least recently seen context. Caller holds s.mu.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, c := range s.contexts {
		if oldestKey == "" || c.LastSeen.Before(oldest) {
			oldestKey = k
			oldest = c.LastSeen
		}
	}
	if oldestKey != "" {
		delete(s.contexts, oldestKey)
		s.logger.Debug("evicted conversation context", "sender", oldestKey)
	}
}

// StartSweep launches the periodic TTL sweep in the background and returns
// immediately; the sweep goroutine exits when the context is cancelled.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.contexts {
		if c.LastSeen.Before(cutoff) {
			delete(s.contexts, k)
			s.logger.Debug("swept stale conversation context", "sender", k)
		}
	}
}
