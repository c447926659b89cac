// Package session provides the per-tool-set session store with lazy expiry.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultID is the session used when a client does not name one.
const DefaultID = "default"

// ErrSessionNotFound is returned when a session does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// NotFoundError names the session that could not be resolved.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

// Is makes errors.Is(err, ErrSessionNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}

// Session is one named, expiring unit of per-client state.
type Session[T any] struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	State        T

	mu      sync.Mutex
	pending bool // guarded by the store lock
}

// Mode selects how Update treats a missing session.
type Mode int

const (
	// Existing fails with ErrSessionNotFound when the session is absent.
	Existing Mode = iota
	// Create builds the session when absent and inserts it only on success.
	Create
)

// Option configures a Store.
type Option func(*options)

type options struct {
	now       func() time.Time
	logger    *slog.Logger
	onExpire  func(id string)
	onDiscard func(id string)
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger used for sweep reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithExpireHook registers fn to run for every session dropped by expiry.
// It runs without the store lock held.
func WithExpireHook(fn func(id string)) Option {
	return func(o *options) {
		o.onExpire = fn
	}
}

// WithDiscardHook registers fn to run when a session being created is
// discarded because its first Update failed. It runs while the session lock is
// still held, so no other Update on the id interleaves with it.
func WithDiscardHook(fn func(id string)) Option {
	return func(o *options) {
		o.onDiscard = fn
	}
}

// Store maps session ids to sessions for a single tool-set.
type Store[T any] struct {
	name      string
	timeout   time.Duration
	newState  func() T
	now       func() time.Time
	logger    *slog.Logger
	onExpire  func(id string)
	onDiscard func(id string)

	mu       sync.Mutex
	sessions map[string]*Session[T]
}

// New creates a store. newState builds the empty domain state of a fresh session.
func New[T any](name string, timeout time.Duration, newState func() T, opts ...Option) *Store[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if newState == nil {
		newState = func() T {
			var zero T
			return zero
		}
	}
	return &Store[T]{
		name:      name,
		timeout:   timeout,
		newState:  newState,
		now:       o.now,
		logger:    o.logger,
		onExpire:  o.onExpire,
		onDiscard: o.onDiscard,
		sessions:  make(map[string]*Session[T]),
	}
}

// Name returns the owning tool-set name.
func (s *Store[T]) Name() string {
	return s.name
}

// Timeout returns the inactivity timeout.
func (s *Store[T]) Timeout() time.Duration {
	return s.timeout
}

// Now returns the store's current time.
func (s *Store[T]) Now() time.Time {
	return s.now()
}

func (s *Store[T]) expired(sess *Session[T], now time.Time) bool {
	return s.timeout > 0 && now.Sub(sess.LastActiveAt) > s.timeout
}

// lookupLocked returns a live session, deleting it if it has expired.
// dropped reports the deletion. Caller must hold s.mu.
func (s *Store[T]) lookupLocked(id string, now time.Time) (sess *Session[T], ok, dropped bool) {
	sess, ok = s.sessions[id]
	if !ok || sess.pending {
		return nil, false, false
	}
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return nil, false, true
	}
	return sess, true, false
}

func (s *Store[T]) notifyExpired(ids ...string) {
	if s.onExpire == nil {
		return
	}
	for _, id := range ids {
		s.onExpire(id)
	}
}

func (s *Store[T]) newSession(id string, now time.Time) *Session[T] {
	return &Session[T]{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		State:        s.newState(),
	}
}

// GetOrCreate returns the live session for id, creating an empty one if needed.
func (s *Store[T]) GetOrCreate(id string) *Session[T] {
	var out *Session[T]
	_ = s.Update(id, Create, func(sess *Session[T]) error {
		out = sess
		return nil
	})
	return out
}

// Get returns the live session for id. Expired sessions are reported absent.
// Read State through Update or View; Get only answers presence.
func (s *Store[T]) Get(id string) (*Session[T], bool) {
	now := s.now()
	s.mu.Lock()
	sess, ok, dropped := s.lookupLocked(id, now)
	s.mu.Unlock()

	if dropped {
		s.notifyExpired(id)
	}
	return sess, ok
}

// Remove deletes the session and reports whether a live one existed.
func (s *Store[T]) Remove(id string) bool {
	now := s.now()
	s.mu.Lock()
	_, ok, dropped := s.lookupLocked(id, now)
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if dropped {
		s.notifyExpired(id)
	}
	return ok
}

// SweepExpired removes every session idle for longer than the timeout and
// returns how many were removed.
func (s *Store[T]) SweepExpired(now time.Time) int {
	s.mu.Lock()
	var removed []string
	for id, sess := range s.sessions {
		if !sess.pending && s.expired(sess, now) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Debug("Expired sessions swept", "toolset", s.name, "removed", len(removed), "remaining", remaining)
		s.notifyExpired(removed...)
	}
	return len(removed)
}

// Sweep runs SweepExpired at the store's current time.
func (s *Store[T]) Sweep() int {
	return s.SweepExpired(s.now())
}

// List returns a snapshot of the live sessions ordered by creation time.
func (s *Store[T]) List() []*Session[T] {
	now := s.now()
	s.mu.Lock()
	out := make([]*Session[T], 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.pending && !s.expired(sess, now) {
			out = append(out, sess)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// View calls fn for every live session, in List order, holding each
// session's lock. Use it to read State without racing with Update.
func (s *Store[T]) View(fn func(*Session[T])) {
	for _, sess := range s.List() {
		sess.mu.Lock()
		fn(sess)
		sess.mu.Unlock()
	}
}

// Len returns the number of live sessions.
func (s *Store[T]) Len() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if !sess.pending && !s.expired(sess, now) {
			n++
		}
	}
	return n
}

// Update runs fn against the session under its lock.
//
// In Existing mode a missing or expired session, including one that expired
// while the caller waited for its lock, yields a *NotFoundError and
// nothing is created. In Create mode a missing session is built and becomes
// visible only if fn returns nil. On success LastActiveAt is refreshed. fn must
// not leave partial changes behind when it returns an error.
func (s *Store[T]) Update(id string, mode Mode, fn func(*Session[T]) error) error {
	for {
		now := s.now()

		s.mu.Lock()
		sess, ok := s.sessions[id]
		dropped := false
		if ok && !sess.pending && s.expired(sess, now) {
			delete(s.sessions, id)
			ok, dropped = false, true
		}
		if !ok {
			if mode != Create {
				s.mu.Unlock()
				if dropped {
					s.notifyExpired(id)
				}
				return &NotFoundError{ID: id}
			}
			sess = s.newSession(id, now)
			sess.pending = true
			sess.mu.Lock()
			s.sessions[id] = sess
			s.mu.Unlock()
			if dropped {
				s.notifyExpired(id)
			}
			return s.commit(sess, fn)
		}
		s.mu.Unlock()

		sess.mu.Lock()
		s.mu.Lock()
		current, live := s.sessions[id]
		stale := !live || current != sess || s.expired(sess, s.now())
		s.mu.Unlock()
		if stale {
			// Cleared, expired or a failed create while we waited; resolve again.
			sess.mu.Unlock()
			continue
		}

		err := fn(sess)
		if err == nil {
			s.mu.Lock()
			sess.LastActiveAt = s.now()
			s.mu.Unlock()
		}
		sess.mu.Unlock()
		return err
	}
}

// commit runs fn on a pending session whose lock is held by the caller.
func (s *Store[T]) commit(sess *Session[T], fn func(*Session[T]) error) error {
	defer sess.mu.Unlock()

	err := fn(sess)

	s.mu.Lock()
	if err != nil {
		if current, ok := s.sessions[sess.ID]; ok && current == sess {
			delete(s.sessions, sess.ID)
		}
		s.mu.Unlock()
		if s.onDiscard != nil {
			s.onDiscard(sess.ID)
		}
		return err
	}
	sess.pending = false
	sess.LastActiveAt = s.now()
	s.mu.Unlock()
	return nil
}
