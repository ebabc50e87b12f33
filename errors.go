package sentinel

import "errors"

var (
	// ErrInvalidCredentials is returned for any credential failure during login.
	// The cause (unknown user, wrong password) is deliberately not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by user-scoped operations when the user
	// record does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrRefreshInvalid covers unknown, malformed, and expired refresh tokens.
	// Callers must re-authenticate; no further detail is exposed.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-revoked refresh token is
	// presented again. The whole token family has been revoked as a side effect.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionExpired is returned when the absolute session deadline has
	// passed, regardless of the individual token's own expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrTOTPNotConfigured is returned when verifying a code for a user with
	// no enrolled TOTP secret.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPInvalid is returned for a wrong or replayed TOTP code.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTrustedDeviceInvalid covers unknown, expired, and
	// fingerprint-mismatched trusted-device tokens.
	ErrTrustedDeviceInvalid = errors.New("invalid trusted device token")
	// ErrEngineNotReady is returned when a required collaborator was not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)
