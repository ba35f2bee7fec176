// Package service hosts lock controllers for the HTTP layer and forwards
// lock audit events to persistence.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/atinyakov/sessionlock/internal/lock"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultTabIdleTTL is how long a tab may go without requests before its
// controller is torn down.
const DefaultTabIdleTTL = 12 * time.Hour

// ErrNoTab is returned when a request carries no tab id.
var ErrNoTab = errors.New("tab id is required")

// SessionOptions configures a SessionService.
type SessionOptions struct {
	// Backend opens one clock store view per tab; the user id is the namespace.
	Backend clockstore.Backend
	// Credentials is the remote PIN credential store.
	Credentials lock.CredentialStore
	// Audit receives lock events. Optional.
	Audit lock.AuditSink
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	LockAfterMinutes  int
	PollInterval      time.Duration
	CredentialTimeout time.Duration
	TabIdleTTL        time.Duration
}

type tabKey struct {
	userID string
	tabID  string
}

type tab struct {
	ctrl     *lock.Controller
	store    clockstore.Store
	bus      *lock.SignalBus
	lastSeen time.Time
}

func (t *tab) close() {
	t.ctrl.Close()
	_ = t.store.Close()
}

// SessionService keeps one started lock controller per (user, tab).
type SessionService struct {
	opts  SessionOptions
	clock clockwork.Clock
	log   *zap.Logger

	mu   sync.Mutex
	tabs map[tabKey]*tab

	// ctx outlives requests; controllers run until their tab is closed.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSessionService constructs a SessionService.
func NewSessionService(opts SessionOptions) *SessionService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TabIdleTTL <= 0 {
		opts.TabIdleTTL = DefaultTabIdleTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		opts:   opts,
		clock:  opts.Clock,
		log:    opts.Logger,
		tabs:   make(map[tabKey]*tab),
		ctx:    ctx,
		cancel: cancel,
	}
}

// tab returns the started controller for (userID, tabID), creating and
// initializing it on first use. A controller whose Init fails is discarded
// so the next request retries.
func (s *SessionService) tab(ctx context.Context, userID, tabID string) (*tab, error) {
	if userID == "" {
		return nil, lock.ErrNotAuthenticated
	}
	if tabID == "" {
		return nil, ErrNoTab
	}
	key := tabKey{userID: userID, tabID: tabID}

	s.mu.Lock()
	if t, ok := s.tabs[key]; ok {
		t.lastSeen = s.clock.Now()
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	store := s.opts.Backend.Open(userID)
	bus := lock.NewSignalBus()
	ctrl := lock.New(lock.Options{
		TabID:             tabID,
		Store:             store,
		Credentials:       s.opts.Credentials,
		Audit:             s.opts.Audit,
		Activity:          bus,
		Clock:             s.clock,
		Logger:            s.log,
		LockAfterMinutes:  s.opts.LockAfterMinutes,
		PollInterval:      s.opts.PollInterval,
		CredentialTimeout: s.opts.CredentialTimeout,
	})
	t := &tab{ctrl: ctrl, store: store, bus: bus, lastSeen: s.clock.Now()}

	// subscribe before Init reads the store so no change falls in between
	ctrl.Start(s.ctx)
	if err := ctrl.Init(ctx, userID); err != nil {
		t.close()
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.tabs[key]; ok {
		// a concurrent request for the same tab won
		s.mu.Unlock()
		t.close()
		return existing, nil
	}
	s.tabs[key] = t
	s.mu.Unlock()

	s.log.Info("tab opened", zap.String("user_id", userID), zap.String("tab_id", tabID))
	return t, nil
}

// State returns the lock state of the tab.
func (s *SessionService) State(ctx context.Context, userID, tabID string) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	return t.ctrl.State(), nil
}

// Setup creates or replaces the user's PIN from this tab.
func (s *SessionService) Setup(ctx context.Context, userID, tabID, username, pin string) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	err = t.ctrl.Setup(ctx, username, pin)
	return t.ctrl.State(), err
}

// Unlock verifies pin and unlocks every tab of the user.
func (s *SessionService) Unlock(ctx context.Context, userID, tabID, pin string) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	err = t.ctrl.Unlock(ctx, pin)
	return t.ctrl.State(), err
}

// Lock locks the tab if it has been idle for the configured timeout.
func (s *SessionService) Lock(ctx context.Context, userID, tabID string) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	t.ctrl.Lock()
	return t.ctrl.State(), nil
}

// LockImmediate locks every tab of the user until the PIN is entered.
func (s *SessionService) LockImmediate(ctx context.Context, userID, tabID string) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	t.ctrl.LockImmediate()
	return t.ctrl.State(), nil
}

// Activity feeds an interaction signal to the tab.
func (s *SessionService) Activity(ctx context.Context, userID, tabID string, sig lock.Signal) (lock.State, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return lock.State{}, err
	}
	t.bus.Emit(sig)
	return t.ctrl.State(), nil
}

// UpdateTimeout stores a new idle timeout for the user.
func (s *SessionService) UpdateTimeout(ctx context.Context, userID, tabID string, minutes int) (time.Duration, error) {
	t, err := s.tab(ctx, userID, tabID)
	if err != nil {
		return 0, err
	}
	return t.ctrl.UpdateTimeout(minutes), nil
}

// CloseTab tears down the controller of one tab. Unknown tabs are ignored.
func (s *SessionService) CloseTab(userID, tabID string) {
	key := tabKey{userID: userID, tabID: tabID}
	s.mu.Lock()
	t, ok := s.tabs[key]
	delete(s.tabs, key)
	s.mu.Unlock()

	if ok {
		t.close()
		s.log.Info("tab closed", zap.String("user_id", userID), zap.String("tab_id", tabID))
	}
}

// SignOut ends the user's session: every tab controller is torn down and
// the shared keys are cleared, so the next request is a fresh login.
func (s *SessionService) SignOut(userID string) error {
	if userID == "" {
		return lock.ErrNotAuthenticated
	}

	s.mu.Lock()
	var closing []*tab
	for k, t := range s.tabs {
		if k.userID == userID {
			closing = append(closing, t)
			delete(s.tabs, k)
		}
	}
	s.mu.Unlock()

	for _, t := range closing {
		t.close()
	}

	store := s.opts.Backend.Open(userID)
	defer func() { _ = store.Close() }()
	clockstore.NewSession(store, lock.LockAfter(s.opts.LockAfterMinutes)).Clear()

	s.log.Info("signed out", zap.String("user_id", userID), zap.Int("tabs", len(closing)))
	return nil
}

// Tabs returns the number of live tab controllers.
func (s *SessionService) Tabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

// StartReaper closes tabs without requests for TabIdleTTL, checking every
// interval until ctx is done.
func (s *SessionService) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := s.reap(); n > 0 {
					s.log.Info("reaped idle tabs", zap.Int("removed", n))
				}
			}
		}
	}()
}

func (s *SessionService) reap() int {
	cutoff := s.clock.Now().Add(-s.opts.TabIdleTTL)

	s.mu.Lock()
	var stale []*tab
	for k, t := range s.tabs {
		if t.lastSeen.Before(cutoff) {
			stale = append(stale, t)
			delete(s.tabs, k)
		}
	}
	s.mu.Unlock()

	for _, t := range stale {
		t.close()
	}
	return len(stale)
}

// Close tears down every tab controller.
func (s *SessionService) Close() {
	s.cancel()

	s.mu.Lock()
	tabs := s.tabs
	s.tabs = make(map[tabKey]*tab)
	s.mu.Unlock()

	for _, t := range tabs {
		t.close()
	}
}
