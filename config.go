package sentinel

import (
	"errors"
	"time"
)

// Config groups all engine settings. Build a Config once, pass it to the
// [Builder], and treat it as immutable afterwards.
type Config struct {
	JWT           JWTConfig
	Refresh       RefreshConfig
	TrustedDevice TrustedDeviceConfig
	TOTP          TOTPConfig
	Password      PasswordConfig
	OAuthExchange OAuthExchangeConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token issuance. SigningKey is required; a missing
// key is a deployment defect and fails Build, never a runtime auth failure.
type JWTConfig struct {
	AccessTTL  time.Duration
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls the refresh-token lifecycle.
//
// DefaultTTL applies to ordinary logins, RememberMeTTL to "remember me"
// logins. AbsoluteSessionTimeout is a hard ceiling measured from the first
// login of a family; rotation can never extend a session past it.
// MaxSessionsPerUser caps concurrent active tokens per user; the oldest
// active session is evicted when the cap is hit, the new login always wins.
type RefreshConfig struct {
	DefaultTTL             time.Duration
	RememberMeTTL          time.Duration
	AbsoluteSessionTimeout time.Duration
	MaxSessionsPerUser     int
}

/*
====================================
TRUSTED DEVICE CONFIG
====================================
*/

// TrustedDeviceConfig controls "remember this device" grants.
type TrustedDeviceConfig struct {
	Enabled           bool
	TTL               time.Duration
	MaxDevicesPerUser int
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls the MFA second factor.
type TOTPConfig struct {
	Enabled                 bool
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the Argon2id cost parameters. Memory is in KB.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
OAUTH EXCHANGE CONFIG
====================================
*/

// OAuthExchangeConfig controls the one-time code-for-token exchange that
// bridges a server-side OAuth callback to a browser client.
type OAuthExchangeConfig struct {
	CodeTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Issuer:    "sentinel",
			Leeway:    30 * time.Second,
		},
		Refresh: RefreshConfig{
			DefaultTTL:             7 * 24 * time.Hour,
			RememberMeTTL:          30 * 24 * time.Hour,
			AbsoluteSessionTimeout: 90 * 24 * time.Hour,
			MaxSessionsPerUser:     5,
		},
		TrustedDevice: TrustedDeviceConfig{
			Enabled:           true,
			TTL:               60 * 24 * time.Hour,
			MaxDevicesPerUser: 5,
		},
		TOTP: TOTPConfig{
			Enabled:                 true,
			Issuer:                  "sentinel",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		OAuthExchange: OAuthExchangeConfig{
			CodeTTL: 60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for deployment defects. It is called by
// [Builder.Build]; failures here indicate misconfiguration, not user error.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if len(c.JWT.SigningKey) < 32 {
		return errors.New("JWT.SigningKey must be at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway must be between 0 and 2 minutes")
	}
	if c.Refresh.DefaultTTL <= 0 {
		return errors.New("Refresh.DefaultTTL must be positive")
	}
	if c.Refresh.RememberMeTTL < c.Refresh.DefaultTTL {
		return errors.New("Refresh.RememberMeTTL must be >= Refresh.DefaultTTL")
	}
	if c.Refresh.AbsoluteSessionTimeout < c.Refresh.RememberMeTTL {
		return errors.New("Refresh.AbsoluteSessionTimeout must be >= Refresh.RememberMeTTL")
	}
	if c.Refresh.MaxSessionsPerUser < 1 {
		return errors.New("Refresh.MaxSessionsPerUser must be >= 1")
	}
	if c.TrustedDevice.Enabled {
		if c.TrustedDevice.TTL <= 0 {
			return errors.New("TrustedDevice.TTL must be positive")
		}
		if c.TrustedDevice.MaxDevicesPerUser < 1 {
			return errors.New("TrustedDevice.MaxDevicesPerUser must be >= 1")
		}
	}
	if c.TOTP.Enabled {
		if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
			return errors.New("TOTP.Digits must be between 6 and 8")
		}
		if c.TOTP.Period < 15 {
			return errors.New("TOTP.Period must be >= 15 seconds")
		}
		if c.TOTP.Skew < 0 || c.TOTP.Skew > 4 {
			return errors.New("TOTP.Skew must be between 0 and 4 steps")
		}
	}
	if c.OAuthExchange.CodeTTL <= 0 || c.OAuthExchange.CodeTTL > 5*time.Minute {
		return errors.New("OAuthExchange.CodeTTL must be positive and short-lived")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
