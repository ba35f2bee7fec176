// Package models defines the persisted records of the session-lock service.
package models

import "time"

// Credential is the PIN credential of one user. At most one exists per user;
// a new setup overwrites it.
type Credential struct {
	// UserID identifies the owner and is unique.
	UserID string
	// Username is the display handle chosen at setup time.
	Username string
	// Salt is regenerated on every write.
	Salt string
	// SaltedHash is the hex digest of Salt + "::" + PIN.
	SaltedHash string
	// LastChangedAt is the time of the last write.
	LastChangedAt time.Time
}

// AuditKind names an audited lock event.
type AuditKind string

const (
	// AuditPINSetup is recorded after a PIN was set or rotated.
	AuditPINSetup AuditKind = "pin_setup"
	// AuditUnlock is recorded after a successful unlock.
	AuditUnlock AuditKind = "pin_unlock"
	// AuditUnlockFailed is recorded after a wrong PIN.
	AuditUnlockFailed AuditKind = "pin_unlock_failed"
	// AuditLockForced is recorded after an immediate lock.
	AuditLockForced AuditKind = "lock_forced"
)

// AuditEvent is one entry of the lock audit trail.
type AuditEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TabID     string    `json:"tab_id,omitempty"`
	Kind      AuditKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
