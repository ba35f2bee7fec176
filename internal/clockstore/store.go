// Package clockstore holds the small durable key-value pairs that every
// execution context (tab) of one profile shares: last activity time, idle
// timeout and lock flags. Reads and writes are best-effort and never fail
// from the caller's point of view; changes made through one Store view are
// announced to the subscribers of every other view on the same namespace.
package clockstore

// Keys shared by all execution contexts of a namespace.
const (
	KeyLastActiveAt  = "lastActiveAt"
	KeyLockAfterMs   = "lockAfterMs"
	KeyForceLockNext = "forceLockNext"
	KeySticky        = "sticky"
	KeyLastUserID    = "lastUserId"
	KeyUnlockedAt    = "unlockedAt"
)

// AllKeys lists every key the lock subsystem writes.
var AllKeys = []string{
	KeyLastActiveAt,
	KeyLockAfterMs,
	KeyForceLockNext,
	KeySticky,
	KeyLastUserID,
	KeyUnlockedAt,
}

// Change describes a write made by another execution context.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is one execution context's view of a shared namespace.
type Store interface {
	// Get returns the value for key and whether it was present.
	// A failed read is reported as absent.
	Get(key string) (string, bool)
	// Set writes value under key. Failures are logged and ignored.
	Set(key, value string)
	// Delete removes key. Failures are logged and ignored.
	Delete(key string)
	// Subscribe registers handler for changes to key made through other
	// views. Handlers run asynchronously, in write order per subscription.
	Subscribe(key string, handler func(Change)) (unsubscribe func())
	// Close drops all subscriptions of this view.
	Close() error
}

// Backend opens Store views on a namespace. Views opened on the same
// namespace see each other's writes.
type Backend interface {
	Open(namespace string) Store
}
