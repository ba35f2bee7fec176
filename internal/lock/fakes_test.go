package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/atinyakov/sessionlock/internal/models"
	"github.com/atinyakov/sessionlock/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

type fakeCredentials struct {
	mu        sync.Mutex
	creds     map[string]models.Credential
	getErr    error
	upsertErr error
	calls     int
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{creds: make(map[string]models.Credential)}
}

func (f *fakeCredentials) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.creds[userID]
	if !ok {
		return nil, repository.ErrCredentialNotFound
	}
	return &c, nil
}

func (f *fakeCredentials) UpsertCredential(ctx context.Context, c models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.creds[c.UserID] = c
	return nil
}

func (f *fakeCredentials) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCredentials) get(userID string) models.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[userID]
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (f *fakeAudit) Record(e models.AuditEvent) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeAudit) kinds() []models.AuditKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

// harness is one browser profile: a shared clock store, one remote
// credential store and a fake clock.
type harness struct {
	mem   *clockstore.Memory
	creds *fakeCredentials
	clock *clockwork.FakeClock
	audit *fakeAudit
}

func newHarness() *harness {
	return &harness{
		mem:   clockstore.NewMemory(),
		creds: newFakeCredentials(),
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		audit: &fakeAudit{},
	}
}

// tab opens a new execution context on the profile.
func (h *harness) tab(t *testing.T, id string, activity ActivitySource) *Controller {
	t.Helper()
	store := h.mem.Open(testUser)
	c := New(Options{
		TabID:             id,
		Store:             store,
		Credentials:       h.creds,
		Audit:             h.audit,
		Activity:          activity,
		Clock:             h.clock,
		LockAfterMinutes:  15,
		PollInterval:      time.Minute,
		CredentialTimeout: time.Second,
	})
	t.Cleanup(func() {
		c.Close()
		_ = store.Close()
	})
	return c
}

// waitTimers blocks until n tickers or timers are registered on the clock.
func (h *harness) waitTimers(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n))
}

// shared returns a typed view used to inspect or prepare the store.
func (h *harness) shared() *clockstore.Session {
	return clockstore.NewSession(h.mem.Open(testUser), LockAfter(15))
}

func (h *harness) nowMs() int64 {
	return h.clock.Now().UnixMilli()
}

// seedCredential stores a credential for testUser with the given PIN.
func (h *harness) seedCredential(t *testing.T, username, p string) {
	t.Helper()
	c := h.tab(t, "seed", nil)
	if err := c.Init(context.Background(), testUser); err != nil {
		t.Fatalf("seed init: %v", err)
	}
	if err := c.Setup(context.Background(), username, p); err != nil {
		t.Fatalf("seed setup: %v", err)
	}
	// a seeded profile starts unlocked with no pending flags
	s := h.shared()
	s.SetForceLockNext(false)
	s.SetSticky(false)
	s.SetLastActiveAt(h.nowMs())
	c.Close()
}
