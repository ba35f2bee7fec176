package lock

import (
	"sync"

	"github.com/atinyakov/sessionlock/internal/clockstore"
)

// Coordinator follows writes made by other execution contexts and feeds
// them into the local controller.
type Coordinator struct {
	store clockstore.Store
	ctrl  *Controller

	mu     sync.Mutex
	unsubs []func()
}

func newCoordinator(store clockstore.Store, ctrl *Controller) *Coordinator {
	return &Coordinator{store: store, ctrl: ctrl}
}

func (co *Coordinator) start() {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.unsubs != nil {
		return
	}
	co.unsubs = []func(){
		co.store.Subscribe(clockstore.KeyForceLockNext, co.onForceLockNext),
		co.store.Subscribe(clockstore.KeySticky, co.onSticky),
		co.store.Subscribe(clockstore.KeyUnlockedAt, co.onUnlockedAt),
		co.store.Subscribe(clockstore.KeyLastActiveAt, co.onLastActiveAt),
	}
}

func (co *Coordinator) stop() {
	co.mu.Lock()
	unsubs := co.unsubs
	co.unsubs = nil
	co.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

func (co *Coordinator) onForceLockNext(c clockstore.Change) {
	if clockstore.IsFlagSet(c) {
		co.ctrl.remoteForceLock()
	}
}

func (co *Coordinator) onSticky(c clockstore.Change) {
	if clockstore.IsFlagSet(c) {
		co.ctrl.remoteStickyLock()
	}
}

func (co *Coordinator) onUnlockedAt(c clockstore.Change) {
	if !c.Deleted {
		co.ctrl.remoteUnlock()
	}
}

func (co *Coordinator) onLastActiveAt(clockstore.Change) {
	// an unlocked tab stays unlocked on fresh activity; this only locks
	// when the shared timestamp is already past the timeout
	co.ctrl.Lock()
}
