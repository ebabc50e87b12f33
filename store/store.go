// Package store defines the persistence contracts for refresh tokens and
// trusted devices, together with a Redis-backed implementation and an
// in-memory implementation.
//
// The rotation algorithm in the engine depends on every operation here being
// atomic per call. MarkRevoked in particular is a compare-and-set: under
// concurrent rotation of the same token, exactly one caller wins and the
// loser observes the token as already revoked, which the engine treats as
// reuse.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound is returned when no refresh token matches the hash.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrDeviceNotFound is returned when no trusted device matches.
	ErrDeviceNotFound = errors.New("trusted device not found")
	// ErrStoreUnavailable wraps backend failures so callers can apply retry
	// policy; the engine never swallows these.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// RefreshToken is one outstanding session-continuation grant. Only the
// SHA-256 of the client-held secret is stored. Records are mutated exactly
// once, to set RevokedAt; deletion is left to an out-of-band cleanup job.
type RefreshToken struct {
	TokenHash        [32]byte
	UserID           string
	FamilyID         string
	Remember         bool
	SessionStartedAt time.Time
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        time.Time
	CreatedByIP      string
}

// Revoked reports whether the token has been revoked.
func (t *RefreshToken) Revoked() bool { return !t.RevokedAt.IsZero() }

// Active reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked() && now.Before(t.ExpiresAt)
}

// TrustedDevice is a long-lived "remember this device" grant, independent of
// refresh-token families. ExpiresAt is fixed at creation; LastUsedAt tracks
// usage for eviction ordering only.
type TrustedDevice struct {
	UserID      string
	TokenHash   [32]byte
	Fingerprint [32]byte
	DeviceName  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
}

// RefreshTokenStore is the durable-storage contract for refresh tokens.
type RefreshTokenStore interface {
	// FindByHash returns the token record for hash, including revoked and
	// expired records; reuse detection needs to see revoked tokens.
	FindByHash(ctx context.Context, hash [32]byte) (*RefreshToken, error)
	// Create persists a new token record.
	Create(ctx context.Context, token *RefreshToken) error
	// MarkRevoked sets RevokedAt if and only if the token is not yet revoked.
	// It reports whether this call performed the transition; false means a
	// concurrent caller (or an earlier rotation) got there first.
	MarkRevoked(ctx context.Context, hash [32]byte, at time.Time) (bool, error)
	// RevokeFamily revokes every not-yet-revoked token in the family and
	// returns how many were revoked.
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int, error)
	// CountActive returns the number of non-revoked, non-expired tokens for
	// the user at now.
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)
	// RevokeOldestActive revokes the user's single oldest active token, by
	// creation time. A user with no active tokens is not an error.
	RevokeOldestActive(ctx context.Context, userID string, now time.Time) error
	// RevokeAllForUser revokes every active token for the user and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// TrustedDeviceStore is the durable-storage contract for trusted devices.
// Revocation here is a hard delete, unlike refresh tokens.
type TrustedDeviceStore interface {
	Find(ctx context.Context, userID string, hash [32]byte) (*TrustedDevice, error)
	Create(ctx context.Context, device *TrustedDevice) error
	Count(ctx context.Context, userID string) (int, error)
	// DeleteOldestByLastUse evicts the device least recently used.
	DeleteOldestByLastUse(ctx context.Context, userID string) error
	// Touch updates LastUsedAt after a successful validation.
	Touch(ctx context.Context, userID string, hash [32]byte, at time.Time) error
	Delete(ctx context.Context, userID string, hash [32]byte) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
