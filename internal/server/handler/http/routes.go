// Package http provides HTTP routing and middleware configuration
// for the session-lock service.
package http

import (
	"net/http"

	"github.com/atinyakov/sessionlock/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the lock API under /api/lock.
//
// Routes:
//
//	GET    /api/lock/state           → lockHandler.State
//	POST   /api/lock/setup           → lockHandler.Setup
//	POST   /api/lock/unlock          → lockHandler.Unlock
//	POST   /api/lock/lock            → lockHandler.Lock
//	POST   /api/lock/lock/immediate  → lockHandler.LockImmediate
//	POST   /api/lock/activity        → lockHandler.Activity
//	PUT    /api/lock/timeout         → lockHandler.UpdateTimeout
//	DELETE /api/lock/tab             → lockHandler.CloseTab
//	POST   /api/lock/signout         → lockHandler.SignOut
//	GET    /api/lock/audit           → lockHandler.AuditTrail
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json"): rejects non-JSON request bodies
//  2. WithRequestLogging(logger): logs served requests
//  3. CertAuth: client certificate identity
//  4. TabID: X-Tab-ID header, on tab routes only
func NewRouter(lockHandler *LockHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.CertAuth)

	r.Route("/api/lock", func(r chi.Router) {
		// User-wide endpoints
		r.Post("/signout", lockHandler.SignOut)
		r.Get("/audit", lockHandler.AuditTrail)

		// Per-tab endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.TabID)

			r.Get("/state", lockHandler.State)
			r.Post("/setup", lockHandler.Setup)
			r.Post("/unlock", lockHandler.Unlock)
			r.Post("/lock", lockHandler.Lock)
			r.Post("/lock/immediate", lockHandler.LockImmediate)
			r.Post("/activity", lockHandler.Activity)
			r.Put("/timeout", lockHandler.UpdateTimeout)
			r.Delete("/tab", lockHandler.CloseTab)
		})
	})

	return r
}
