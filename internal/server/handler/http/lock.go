// Package http provides the JSON handlers of the session-lock API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/atinyakov/sessionlock/internal/lock"
	"github.com/atinyakov/sessionlock/internal/middleware"
	"github.com/atinyakov/sessionlock/internal/models"
	"github.com/atinyakov/sessionlock/internal/service"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// LockService defines the lock operations required by the LockHandler.
// Every call addresses the controller of one (user, tab) pair.
type LockService interface {
	State(ctx context.Context, userID, tabID string) (lock.State, error)
	Setup(ctx context.Context, userID, tabID, username, pin string) (lock.State, error)
	Unlock(ctx context.Context, userID, tabID, pin string) (lock.State, error)
	Lock(ctx context.Context, userID, tabID string) (lock.State, error)
	LockImmediate(ctx context.Context, userID, tabID string) (lock.State, error)
	Activity(ctx context.Context, userID, tabID string, sig lock.Signal) (lock.State, error)
	UpdateTimeout(ctx context.Context, userID, tabID string, minutes int) (time.Duration, error)
	CloseTab(userID, tabID string)
	SignOut(userID string) error
}

// AuditLister returns recent lock events of a user.
type AuditLister interface {
	List(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error)
}

// LockHandler handles HTTP requests of the lock screen.
type LockHandler struct {
	// LockService performs the lock operations.
	LockService LockService
	// Audit serves the audit trail. Optional.
	Audit AuditLister
}

// SetupRequest is the body of POST /api/lock/setup.
type SetupRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

// UnlockRequest is the body of POST /api/lock/unlock.
type UnlockRequest struct {
	PIN string `json:"pin"`
}

// ActivityRequest is the body of POST /api/lock/activity.
type ActivityRequest struct {
	Kind string `json:"kind"`
}

// TimeoutRequest is the body of PUT /api/lock/timeout.
type TimeoutRequest struct {
	Minutes int `json:"minutes"`
}

// StateResponse wraps a lock state for the client.
type StateResponse struct {
	Success bool `json:"success"`
	lock.State
}

// TimeoutResponse reports the idle timeout now in effect.
type TimeoutResponse struct {
	Success     bool  `json:"success"`
	Minutes     int   `json:"minutes"`
	LockAfterMs int64 `json:"lockAfterMs"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// State handles GET /api/lock/state.
func (h *LockHandler) State(w http.ResponseWriter, r *http.Request) {
	userID, tabID := identity(r)
	st, err := h.LockService.State(r.Context(), userID, tabID)
	h.respondState(w, st, err)
}

// Setup handles POST /api/lock/setup. It creates or replaces the PIN and
// leaves every tab sticky-locked.
func (h *LockHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if !decode(w, r, &req) {
		return
	}
	userID, tabID := identity(r)
	st, err := h.LockService.Setup(r.Context(), userID, tabID, req.Username, req.PIN)
	h.respondState(w, st, err)
}

// Unlock handles POST /api/lock/unlock.
func (h *LockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decode(w, r, &req) {
		return
	}
	userID, tabID := identity(r)
	st, err := h.LockService.Unlock(r.Context(), userID, tabID, req.PIN)
	h.respondState(w, st, err)
}

// Lock handles POST /api/lock/lock, the confirming idle check.
func (h *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	userID, tabID := identity(r)
	st, err := h.LockService.Lock(r.Context(), userID, tabID)
	h.respondState(w, st, err)
}

// LockImmediate handles POST /api/lock/lock/immediate.
func (h *LockHandler) LockImmediate(w http.ResponseWriter, r *http.Request) {
	userID, tabID := identity(r)
	st, err := h.LockService.LockImmediate(r.Context(), userID, tabID)
	h.respondState(w, st, err)
}

// Activity handles POST /api/lock/activity.
func (h *LockHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decode(w, r, &req) {
		return
	}
	sig, err := lock.ParseSignal(req.Kind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, tabID := identity(r)
	st, err := h.LockService.Activity(r.Context(), userID, tabID, sig)
	h.respondState(w, st, err)
}

// UpdateTimeout handles PUT /api/lock/timeout. Values below one minute are
// raised to one minute.
func (h *LockHandler) UpdateTimeout(w http.ResponseWriter, r *http.Request) {
	var req TimeoutRequest
	if !decode(w, r, &req) {
		return
	}
	userID, tabID := identity(r)
	d, err := h.LockService.UpdateTimeout(r.Context(), userID, tabID, req.Minutes)
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimeoutResponse{
		Success:     true,
		Minutes:     int(d / time.Minute),
		LockAfterMs: d.Milliseconds(),
	})
}

// CloseTab handles DELETE /api/lock/tab.
func (h *LockHandler) CloseTab(w http.ResponseWriter, r *http.Request) {
	userID, tabID := identity(r)
	h.LockService.CloseTab(userID, tabID)
	w.WriteHeader(http.StatusNoContent)
}

// SignOut handles POST /api/lock/signout. It ends the lock session of the
// user in every tab.
func (h *LockHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if err := h.LockService.SignOut(userID); err != nil {
		writeLockError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditTrail handles GET /api/lock/audit?limit=N.
func (h *LockHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, "audit trail is not available", http.StatusNotFound)
		return
	}
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAuditLimit)
	}

	userID, _ := identity(r)
	events, err := h.Audit.List(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *LockHandler) respondState(w http.ResponseWriter, st lock.State, err error) {
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Success: true, State: st})
}

func identity(r *http.Request) (userID, tabID string) {
	ctx := r.Context()
	return middleware.GetUserIDFromContext(ctx), middleware.GetTabIDFromContext(ctx)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps lock errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lock.ErrInvalidPINFormat),
		errors.Is(err, lock.ErrEmptyUsername),
		errors.Is(err, service.ErrNoTab):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrNotAuthenticated),
		errors.Is(err, lock.ErrInvalidPIN):
		return http.StatusUnauthorized
	case errors.Is(err, lock.ErrNotSetUp):
		return http.StatusConflict
	case errors.Is(err, lock.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeLockError(w http.ResponseWriter, err error) {
	msg := lock.Message(err)
	if errors.Is(err, service.ErrNoTab) {
		msg = "Tab id is required"
	}
	writeError(w, msg, statusFor(err))
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
