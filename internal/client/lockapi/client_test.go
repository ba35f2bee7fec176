package lockapi_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/sessionlock/internal/certgen"
	"github.com/atinyakov/sessionlock/internal/client/lockapi"
	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/atinyakov/sessionlock/internal/lock"
	"github.com/atinyakov/sessionlock/internal/models"
	"github.com/atinyakov/sessionlock/internal/repository"
	handler "github.com/atinyakov/sessionlock/internal/server/handler/http"
	"github.com/atinyakov/sessionlock/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCredentials struct {
	mu    sync.Mutex
	creds map[string]models.Credential
}

func (m *memCredentials) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, repository.ErrCredentialNotFound
	}
	return &c, nil
}

func (m *memCredentials) UpsertCredential(ctx context.Context, c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[c.UserID] = c
	return nil
}

type staticAudit []models.AuditEvent

func (a staticAudit) List(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	if limit < len(a) {
		return a[:limit], nil
	}
	return a, nil
}

type testServer struct {
	url string
	dir string
	ca  *certgen.Authority
}

// startServer runs the real router over mutual TLS.
func startServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	ca, err := certgen.NewAuthority("test ca")
	require.NoError(t, err)
	caPair, err := ca.PEM()
	require.NoError(t, err)
	require.NoError(t, caPair.Write(dir, "ca"))

	serverPair, err := ca.IssueServer("127.0.0.1")
	require.NoError(t, err)
	serverCert, err := serverPair.TLSCertificate()
	require.NoError(t, err)

	svc := service.NewSessionService(service.SessionOptions{
		Backend:     clockstore.NewMemory(),
		Credentials: &memCredentials{creds: make(map[string]models.Credential)},
	})
	t.Cleanup(svc.Close)

	audit := staticAudit{
		{ID: "1", UserID: "alice", Kind: models.AuditPINSetup},
		{ID: "2", UserID: "alice", Kind: models.AuditUnlock},
	}
	router := handler.NewRouter(&handler.LockHandler{LockService: svc, Audit: audit}, zap.NewNop())

	srv := httptest.NewUnstartedServer(router)
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    ca.Pool(),
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, dir: dir, ca: ca}
}

func (s *testServer) client(t *testing.T, user, tab string) *lockapi.Client {
	t.Helper()
	pair, err := s.ca.IssueClient(user)
	require.NoError(t, err)
	require.NoError(t, pair.Write(s.dir, user))

	hc, err := lockapi.LoadClientCertificate(
		filepath.Join(s.dir, user+".crt"),
		filepath.Join(s.dir, user+".key"),
		filepath.Join(s.dir, "ca.crt"),
	)
	require.NoError(t, err)
	return lockapi.New(hc, s.url, tab)
}

func TestClient_LockFlow(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	tab1 := srv.client(t, "alice", "tab-1")

	st, err := tab1.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.NeedsSetup)

	_, err = tab1.Setup(ctx, "office-admin", "123")
	assert.ErrorIs(t, err, lock.ErrInvalidPINFormat)

	_, err = tab1.Unlock(ctx, "12345")
	assert.ErrorIs(t, err, lock.ErrNotSetUp)

	st, err = tab1.Setup(ctx, "office-admin", "12345")
	require.NoError(t, err)
	assert.True(t, st.StickyLocked)

	_, err = tab1.Unlock(ctx, "54321")
	var apiErr *lockapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.ErrorIs(t, err, lock.ErrInvalidPIN)

	st, err = tab1.Unlock(ctx, "12345")
	require.NoError(t, err)
	assert.False(t, st.IsLocked)
	assert.Equal(t, "office-admin", st.Username)

	tab2 := srv.client(t, "alice", "tab-2")
	st, err = tab2.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsLocked)

	_, err = tab2.Activity(ctx, lock.SignalKeyPress)
	require.NoError(t, err)

	st, err = tab2.LockImmediate(ctx)
	require.NoError(t, err)
	assert.True(t, st.StickyLocked)

	assert.Eventually(t, func() bool {
		st, err := tab1.State(ctx)
		return err == nil && st.StickyLocked
	}, 2*time.Second, 20*time.Millisecond)

	d, err := tab1.SetTimeout(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	events, err := tab1.Audit(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, tab2.CloseTab(ctx))
	require.NoError(t, tab1.SignOut(ctx))
}

func TestClient_RequiresClientCertificate(t *testing.T) {
	srv := startServer(t)

	noCert := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: srv.ca.Pool()}}}
	_, err := lockapi.New(noCert, srv.url, "tab-1").State(context.Background())
	require.Error(t, err)

	var apiErr *lockapi.APIError
	assert.False(t, errors.As(err, &apiErr), "the handshake fails before any HTTP answer")
}

func TestLoadClientCertificate_Errors(t *testing.T) {
	srv := startServer(t)
	dir := srv.dir

	_, err := lockapi.LoadClientCertificate(filepath.Join(dir, "nope.crt"), filepath.Join(dir, "nope.key"), filepath.Join(dir, "ca.crt"))
	assert.ErrorContains(t, err, "client cert/key")

	pair, err := srv.ca.IssueClient("bob")
	require.NoError(t, err)
	require.NoError(t, pair.Write(dir, "bob"))

	_, err = lockapi.LoadClientCertificate(filepath.Join(dir, "bob.crt"), filepath.Join(dir, "bob.key"), filepath.Join(dir, "missing-ca.crt"))
	assert.ErrorContains(t, err, "read CA cert")

	_, err = lockapi.LoadClientCertificate(filepath.Join(dir, "bob.crt"), filepath.Join(dir, "bob.key"), filepath.Join(dir, "bob.key"))
	assert.ErrorContains(t, err, "parse CA cert")
}

func TestAPIError_Unwrap(t *testing.T) {
	tests := []struct {
		err  *lockapi.APIError
		want error
	}{
		{&lockapi.APIError{Status: 401, Message: "Invalid PIN"}, lock.ErrInvalidPIN},
		{&lockapi.APIError{Status: 401, Message: "no client certificate provided"}, lock.ErrNotAuthenticated},
		{&lockapi.APIError{Status: 409, Message: "Not set up"}, lock.ErrNotSetUp},
		{&lockapi.APIError{Status: 503, Message: "try again"}, lock.ErrStoreUnavailable},
		{&lockapi.APIError{Status: 400, Message: "PIN must be exactly 5 digits"}, lock.ErrInvalidPINFormat},
		{&lockapi.APIError{Status: 400, Message: "Username is required"}, lock.ErrEmptyUsername},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}
	assert.Nil(t, (&lockapi.APIError{Status: 500, Message: "x"}).Unwrap())
}
