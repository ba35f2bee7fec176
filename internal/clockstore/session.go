package clockstore

import (
	"strconv"
	"time"
)

const flagSet = "1"

// Session reads and writes the lock-related keys of one Store with their
// types and defaults applied.
type Session struct {
	store            Store
	defaultLockAfter time.Duration
}

// NewSession wraps store. defaultLockAfter is reported by LockAfter while
// no timeout has been stored.
func NewSession(store Store, defaultLockAfter time.Duration) *Session {
	return &Session{store: store, defaultLockAfter: defaultLockAfter}
}

// Store returns the underlying view.
func (s *Session) Store() Store { return s.store }

// LastActiveAt returns the last activity in epoch milliseconds; 0 means
// unknown.
func (s *Session) LastActiveAt() int64 {
	return s.int(KeyLastActiveAt)
}

// SetLastActiveAt records activity at ms.
func (s *Session) SetLastActiveAt(ms int64) {
	s.store.Set(KeyLastActiveAt, strconv.FormatInt(ms, 10))
}

// LockAfter returns the configured idle timeout.
func (s *Session) LockAfter() time.Duration {
	ms := s.int(KeyLockAfterMs)
	if ms <= 0 {
		return s.defaultLockAfter
	}
	return time.Duration(ms) * time.Millisecond
}

// SetLockAfter stores the idle timeout in milliseconds.
func (s *Session) SetLockAfter(d time.Duration) {
	s.store.Set(KeyLockAfterMs, strconv.FormatInt(d.Milliseconds(), 10))
}

// ForceLockNext reports whether the next initialization must lock sticky.
func (s *Session) ForceLockNext() bool { return s.flag(KeyForceLockNext) }

// SetForceLockNext sets or clears the pending forced lock.
func (s *Session) SetForceLockNext(v bool) { s.setFlag(KeyForceLockNext, v) }

// Sticky reports whether a forced lock is in effect.
func (s *Session) Sticky() bool { return s.flag(KeySticky) }

// SetSticky sets or clears the forced lock.
func (s *Session) SetSticky(v bool) { s.setFlag(KeySticky, v) }

// LastUserID returns the user id observed by the previous initialization.
func (s *Session) LastUserID() string {
	v, _ := s.store.Get(KeyLastUserID)
	return v
}

// SetLastUserID records the user id seen by the latest initialization.
func (s *Session) SetLastUserID(id string) {
	s.store.Set(KeyLastUserID, id)
}

// UnlockedAt returns the time of the last successful unlock in epoch
// milliseconds, or 0.
func (s *Session) UnlockedAt() int64 {
	return s.int(KeyUnlockedAt)
}

// SetUnlockedAt records a successful unlock at ms.
func (s *Session) SetUnlockedAt(ms int64) {
	s.store.Set(KeyUnlockedAt, strconv.FormatInt(ms, 10))
}

// Clear removes every key of the namespace.
func (s *Session) Clear() {
	for _, k := range AllKeys {
		s.store.Delete(k)
	}
}

func (s *Session) int(key string) int64 {
	v, ok := s.store.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Session) flag(key string) bool {
	v, ok := s.store.Get(key)
	return ok && v == flagSet
}

func (s *Session) setFlag(key string, v bool) {
	if v {
		s.store.Set(key, flagSet)
		return
	}
	s.store.Delete(key)
}

// IsFlagSet reports whether a change sets a flag key.
func IsFlagSet(c Change) bool {
	return !c.Deleted && c.Value == flagSet
}
