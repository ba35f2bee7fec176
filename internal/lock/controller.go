// Package lock implements the session-lock controller: a PIN gate that
// re-locks an authenticated session after inactivity and keeps every
// execution context of the same profile in agreement through the shared
// clock store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/atinyakov/sessionlock/internal/models"
	"github.com/atinyakov/sessionlock/internal/pin"
	"github.com/atinyakov/sessionlock/internal/repository"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultLockAfterMinutes is used when Options.LockAfterMinutes is unset.
	DefaultLockAfterMinutes = 15
	// DefaultPollInterval is the fallback idle re-check period.
	DefaultPollInterval = time.Minute
	// DefaultCredentialTimeout bounds every credential store call.
	DefaultCredentialTimeout = 8 * time.Second
)

// CredentialStore is the remote PIN credential storage. GetCredential
// returns repository.ErrCredentialNotFound when the user has none.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	UpsertCredential(ctx context.Context, c models.Credential) error
}

// AuditSink receives lock events. Record must not block.
type AuditSink interface {
	Record(e models.AuditEvent)
}

// Options configures a Controller.
type Options struct {
	// TabID identifies the execution context in logs and audit events.
	TabID string
	// Store is this execution context's view of the shared clock store.
	Store clockstore.Store
	// Credentials is required.
	Credentials CredentialStore
	// Audit is optional.
	Audit AuditSink
	// Activity is optional; without it only Touch records activity.
	Activity ActivitySource
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// LockAfterMinutes is the idle timeout used until one is stored.
	LockAfterMinutes int
	// PollInterval is the period of the fallback idle check.
	PollInterval time.Duration
	// CredentialTimeout bounds credential store calls.
	CredentialTimeout time.Duration
}

// Controller is the lock state machine of one execution context.
type Controller struct {
	tabID             string
	session           *clockstore.Session
	creds             CredentialStore
	audit             AuditSink
	activity          ActivitySource
	clock             clockwork.Clock
	log               *zap.Logger
	pollInterval      time.Duration
	credentialTimeout time.Duration

	tracker     *ActivityTracker
	coordinator *Coordinator

	mu       sync.Mutex
	userID   string
	phase    Phase
	username string

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// MaxLockAfterMinutes is the largest timeout a time.Duration can hold.
const MaxLockAfterMinutes = int(math.MaxInt64 / int64(time.Minute))

// LockAfter converts a timeout in minutes to a duration of at least one
// minute, capped at MaxLockAfterMinutes.
func LockAfter(minutes int) time.Duration {
	return time.Duration(min(max(1, minutes), MaxLockAfterMinutes)) * time.Minute
}

// New builds a controller. Call Init before use and Start to follow
// activity, other tabs and the idle timer.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LockAfterMinutes == 0 {
		opts.LockAfterMinutes = DefaultLockAfterMinutes
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CredentialTimeout <= 0 {
		opts.CredentialTimeout = DefaultCredentialTimeout
	}

	c := &Controller{
		tabID:             opts.TabID,
		session:           clockstore.NewSession(opts.Store, LockAfter(opts.LockAfterMinutes)),
		creds:             opts.Credentials,
		audit:             opts.Audit,
		activity:          opts.Activity,
		clock:             opts.Clock,
		log:               opts.Logger.With(zap.String("tab_id", opts.TabID)),
		pollInterval:      opts.PollInterval,
		credentialTimeout: opts.CredentialTimeout,
	}
	c.tracker = newActivityTracker(c.session, c.clock, c.StickyLocked, func() { c.Lock() })
	c.coordinator = newCoordinator(opts.Store, c)
	return c
}

// State returns a snapshot of the visible state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stateOf(c.phase, c.username)
}

// StickyLocked reports whether the current lock only clears on Unlock.
func (c *Controller) StickyLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseLockedSticky
}

// Tracker returns the activity tracker that Touch delegates to.
func (c *Controller) Tracker() *ActivityTracker { return c.tracker }

// Init decides the initial state for userID from the shared clock store
// and the credential store. A user id different from the one observed last
// is a fresh login and counts as activity.
func (c *Controller) Init(ctx context.Context, userID string) error {
	if userID == "" {
		c.mu.Lock()
		c.userID, c.username = "", ""
		c.setPhase(PhaseUninitialized, "no user")
		c.mu.Unlock()
		return ErrNotAuthenticated
	}

	fresh := c.session.LastUserID() != userID
	if fresh {
		c.session.SetLastUserID(userID)
		c.session.SetLastActiveAt(c.nowMs())
	}

	cred, err := c.fetch(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID

	if errors.Is(err, repository.ErrCredentialNotFound) {
		c.username = ""
		c.setPhase(PhaseNeedsSetup, "no credential")
		return nil
	}
	if err != nil {
		c.log.Error("credential lookup failed during init", zap.String("user_id", userID), zap.Error(err))
		c.setPhase(PhaseLocked, "credential lookup failed")
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	c.username = cred.Username
	switch {
	case c.session.ForceLockNext():
		c.session.SetForceLockNext(false)
		c.session.SetSticky(true)
		c.setPhase(PhaseLockedSticky, "forced lock pending")
	case c.session.Sticky():
		c.setPhase(PhaseLockedSticky, "sticky lock persisted")
	case fresh:
		c.setPhase(PhaseUnlocked, "fresh login")
	case c.idleLocked():
		c.setPhase(PhaseLocked, "idle on restore")
	default:
		c.setPhase(PhaseUnlocked, "session restored")
	}
	return nil
}

// Setup stores a new PIN credential for the current user, rotating the
// salt, and locks every execution context until the PIN is entered.
func (c *Controller) Setup(ctx context.Context, username, p string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrEmptyUsername
	}
	if err := pin.ValidatePIN(p); err != nil {
		return err
	}
	userID := c.currentUser()
	if userID == "" {
		return ErrNotAuthenticated
	}

	salt := pin.NewSalt()
	cred := models.Credential{
		UserID:        userID,
		Username:      username,
		Salt:          salt,
		SaltedHash:    pin.Hash(salt, p),
		LastChangedAt: c.clock.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, c.credentialTimeout)
	defer cancel()
	if err := c.creds.UpsertCredential(ctx, cred); err != nil {
		c.log.Error("credential upsert failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	c.mu.Lock()
	c.session.SetLastActiveAt(0)
	c.session.SetForceLockNext(true)
	c.session.SetSticky(true)
	c.username = username
	c.setPhase(PhaseLockedSticky, "pin set")
	c.mu.Unlock()

	c.emit(userID, models.AuditPINSetup)
	return nil
}

// Unlock verifies p against a freshly fetched credential. On success the
// lock is cleared here and, through the shared store, in every other tab.
func (c *Controller) Unlock(ctx context.Context, p string) error {
	if err := pin.ValidatePIN(p); err != nil {
		return err
	}
	userID := c.currentUser()
	if userID == "" {
		return ErrNotAuthenticated
	}

	cred, err := c.fetch(ctx, userID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return ErrNotSetUp
	}
	if err != nil {
		c.log.Error("credential lookup failed during unlock", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if !pin.Verify(cred.Salt, cred.SaltedHash, p) {
		c.emit(userID, models.AuditUnlockFailed)
		return ErrInvalidPIN
	}

	c.mu.Lock()
	now := c.nowMs()
	c.session.SetLastActiveAt(now)
	c.session.SetSticky(false)
	c.session.SetForceLockNext(false)
	c.session.SetUnlockedAt(now)
	c.username = cred.Username
	c.setPhase(PhaseUnlocked, "pin accepted")
	c.mu.Unlock()

	c.emit(userID, models.AuditUnlock)
	return nil
}

// Lock is the confirming lock: it locks only if the idle timeout has
// already passed, or sticky if the shared store carries a sticky or
// pending forced lock that this tab has not seen yet. It reports whether
// the controller is locked afterwards.
func (c *Controller) Lock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseUnlocked && c.phase != PhaseLocked {
		return c.phase.Locked()
	}
	switch {
	case c.session.Sticky() || c.session.ForceLockNext():
		c.setPhase(PhaseLockedSticky, "sticky lock in shared store")
	case c.phase == PhaseUnlocked && c.idleLocked():
		c.setPhase(PhaseLocked, "idle timeout")
	}
	return c.phase.Locked()
}

// LockImmediate locks now, whatever the idle time, and makes the lock
// sticky in every tab. A user without a PIN is left alone.
func (c *Controller) LockImmediate() {
	c.mu.Lock()
	if c.phase == PhaseUninitialized || c.phase == PhaseNeedsSetup {
		c.mu.Unlock()
		return
	}
	c.session.SetLastActiveAt(0)
	c.session.SetSticky(true)
	c.setPhase(PhaseLockedSticky, "forced")
	userID := c.userID
	c.mu.Unlock()

	c.emit(userID, models.AuditLockForced)
}

// Touch records activity through the tracker. It reports whether the write
// happened.
func (c *Controller) Touch() bool {
	return c.tracker.Record()
}

// UpdateTimeout stores a new idle timeout of minutes, clamped by LockAfter.
// The lock state is not re-evaluated.
func (c *Controller) UpdateTimeout(minutes int) time.Duration {
	d := LockAfter(minutes)
	c.session.SetLockAfter(d)
	return d
}

// LockAfterDuration returns the idle timeout currently in effect.
func (c *Controller) LockAfterDuration() time.Duration {
	return c.session.LockAfter()
}

// Start subscribes to activity and cross-tab changes and runs the idle
// timer until ctx is done or Close is called.
func (c *Controller) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.coordinator.start()
	c.tracker.start(c.activity)

	ticker := c.clock.NewTicker(c.pollInterval)
	c.running.Add(1)
	go func() {
		defer c.running.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				c.Lock()
			}
		}
	}()
}

// Close stops everything Start began and waits for the timer goroutine.
func (c *Controller) Close() {
	c.runMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.coordinator.stop()
	c.tracker.stop()
	c.running.Wait()
}

func (c *Controller) remoteForceLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseUninitialized {
		return
	}
	c.setPhase(PhaseLockedSticky, "forced lock from another tab")
}

func (c *Controller) remoteStickyLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseUnlocked || c.phase == PhaseLocked {
		c.setPhase(PhaseLockedSticky, "sticky lock from another tab")
	}
}

func (c *Controller) remoteUnlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.phase.Locked() || c.session.Sticky() || c.session.ForceLockNext() {
		return
	}
	c.setPhase(PhaseUnlocked, "unlocked in another tab")
}

func (c *Controller) fetch(ctx context.Context, userID string) (*models.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.credentialTimeout)
	defer cancel()
	return c.creds.GetCredential(ctx, userID)
}

func (c *Controller) currentUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// idleLocked must be called with c.mu held. An unknown last activity is
// not idle.
func (c *Controller) idleLocked() bool {
	last := c.session.LastActiveAt()
	if last == 0 {
		return false
	}
	return c.nowMs()-last >= c.session.LockAfter().Milliseconds()
}

// setPhase must be called with c.mu held.
func (c *Controller) setPhase(p Phase, reason string) {
	if c.phase == p {
		return
	}
	c.log.Info("session lock state changed",
		zap.String("user_id", c.userID),
		zap.Stringer("from", c.phase),
		zap.Stringer("to", p),
		zap.String("reason", reason),
	)
	c.phase = p
}

func (c *Controller) nowMs() int64 {
	return c.clock.Now().UnixMilli()
}

func (c *Controller) emit(userID string, kind models.AuditKind) {
	if c.audit == nil {
		return
	}
	c.audit.Record(models.AuditEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		TabID:     c.tabID,
		Kind:      kind,
		CreatedAt: c.clock.Now().UTC(),
	})
}
