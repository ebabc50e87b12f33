package sentinel

import (
	"context"
	"time"
)

// AuthResult is returned by [Engine.Login] and [Engine.Refresh]. ExpiresAt is
// the refresh token's expiry; the access token carries its own inside the JWT.
type AuthResult struct {
	UserID       string
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// RequiresPasswordChange mirrors the flag on the user record so callers
	// can force a password-change flow after issuing tokens.
	RequiresPasswordChange bool
}

// UserRecord is the account view the engine needs. It carries the stored
// password hash and the claims material for access tokens, nothing more.
type UserRecord struct {
	UserID                 string
	Username               string
	PasswordHash           string
	Roles                  []string
	TOTPEnabled            bool
	RequiresPasswordChange bool
}

// TOTPRecord is returned by [UserProvider.GetTOTPSecret]. LastUsedCounter is
// the highest HOTP counter a code has been accepted for; it only ever moves
// forward.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// UserProvider is the interface callers implement to connect the engine to
// their user database. The engine never creates or deletes users; it reads
// credentials and writes back password-hash upgrades and TOTP state.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	// UpdatePasswordHash replaces the stored hash after an on-login cost
	// upgrade. Failures are logged and do not block the login.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	// GetTOTPSecret returns nil without error when the user has no secret.
	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	SaveTOTPSecret(ctx context.Context, userID string, secret []byte) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error
}

// TOTPEnrollment is returned by [Engine.EnrollTOTP]. SecretBase32 is shown to
// the user once; URI renders as a QR code for authenticator apps.
type TOTPEnrollment struct {
	SecretBase32 string
	URI          string
}

// OAuthTokens is the token pair parked behind a one-time exchange code.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
