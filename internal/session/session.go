// Package session keeps per-conversation history in memory.
//
// Sessions are sharded by ID so distinct conversations never contend on a
// lock. A janitor goroutine purges sessions idle past the configured
// timeout; an expired ID simply starts a fresh conversation.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aldin-datascience/tech-docs-rag/internal/log"
)

const (
	// shardCount is a power of two so shard selection is a mask.
	shardCount = 16

	// DefaultIdleTimeout expires conversations abandoned for this long.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultHistoryLimit caps turns kept per session.
	DefaultHistoryLimit = 50

	// janitorInterval is how often expired sessions are purged.
	janitorInterval = time.Minute
)

// Turn is one exchange in a conversation.
type Turn struct {
	Question  string
	Answer    string
	ChunkIDs  []string
	Timestamp time.Time
}

// state holds one session's data. Guarded by its own mutex so turns in the
// same session serialize while distinct sessions proceed in parallel.
type state struct {
	mu         sync.Mutex
	turns      []Turn
	createdAt  time.Time
	lastActive time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*state
}

// Options tune a Manager.
type Options struct {
	IdleTimeout  time.Duration
	HistoryLimit int
}

// Manager owns all live sessions. Safe for concurrent use.
type Manager struct {
	shards       [shardCount]*shard
	idleTimeout  time.Duration
	historyLimit int
	logger       log.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a Manager and starts its janitor goroutine. Call Stop
// when done.
func NewManager(opts Options, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	m := &Manager{
		idleTimeout:  opts.IdleTimeout,
		historyLimit: opts.HistoryLimit,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{sessions: make(map[string]*state)}
	}

	go m.janitor()
	return m
}

// Stop halts the janitor. Sessions remain readable afterwards.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// NewID returns a fresh session ID.
func NewID() string { return uuid.NewString() }

// AddTurn appends one exchange to a session, creating it if needed. Turns
// beyond the history limit fall off the front.
func (m *Manager) AddTurn(sessionID string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	st := m.getOrCreate(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	m.resetIfExpired(st, now)
	st.turns = append(st.turns, turn)
	if len(st.turns) > m.historyLimit {
		st.turns = st.turns[len(st.turns)-m.historyLimit:]
	}
	st.lastActive = now
}

// History returns a copy of the session's turns in order, oldest first. An
// unknown or expired session has no history.
func (m *Manager) History(sessionID string) []Turn {
	st := m.lookup(sessionID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if time.Since(st.lastActive) > m.idleTimeout {
		return nil
	}

	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out
}

// Touch refreshes a session's idle clock without recording a turn.
func (m *Manager) Touch(sessionID string) {
	if st := m.lookup(sessionID); st != nil {
		st.mu.Lock()
		now := time.Now()
		m.resetIfExpired(st, now)
		st.lastActive = now
		st.mu.Unlock()
	}
}

// resetIfExpired discards turns of a session the janitor has not purged yet,
// so reusing an expired ID starts a fresh conversation. Caller holds st.mu.
func (m *Manager) resetIfExpired(st *state, now time.Time) {
	if now.Sub(st.lastActive) > m.idleTimeout {
		st.turns = nil
		st.createdAt = now
	}
}

// Len reports the number of live sessions across all shards.
func (m *Manager) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

func (m *Manager) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return m.shards[h.Sum32()&(shardCount-1)]
}

func (m *Manager) lookup(sessionID string) *state {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.sessions[sessionID]
}

func (m *Manager) getOrCreate(sessionID string) *state {
	sh := m.shardFor(sessionID)

	sh.mu.RLock()
	st := sh.sessions[sessionID]
	sh.mu.RUnlock()
	if st != nil {
		return st
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st = sh.sessions[sessionID]; st == nil {
		now := time.Now()
		st = &state{createdAt: now, lastActive: now}
		sh.sessions[sessionID] = st
	}
	return st
}

// janitor periodically removes sessions idle past the timeout.
func (m *Manager) janitor() {
	defer close(m.done)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if purged := m.purgeExpired(); purged > 0 {
				m.logger.Debug("purged idle sessions", "count", purged)
			}
		}
	}
}

func (m *Manager) purgeExpired() int {
	cutoff := time.Now().Add(-m.idleTimeout)
	purged := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, st := range sh.sessions {
			st.mu.Lock()
			expired := st.lastActive.Before(cutoff)
			st.mu.Unlock()
			if expired {
				delete(sh.sessions, id)
				purged++
			}
		}
		sh.mu.Unlock()
	}
	return purged
}
