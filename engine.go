package sentinel

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelkit/sentinel/internal"
	"github.com/sentinelkit/sentinel/jwt"
	"github.com/sentinelkit/sentinel/password"
	"github.com/sentinelkit/sentinel/store"
)

// Engine is the session-security core: password login, refresh-token
// rotation with reuse detection, trusted devices, TOTP, and the one-time
// OAuth code exchange. Construct it with [New]; all methods are safe for
// concurrent use.
type Engine struct {
	config     Config
	clock      Clock
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	tokens     store.RefreshTokenStore
	devices    store.TrustedDeviceStore
	users      UserProvider
	totp       *totpManager
	exchange   *oauthExchange
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies the user's credentials and issues a fresh token pair in a
// new token family. Unknown users and wrong passwords are indistinguishable:
// both return [ErrInvalidCredentials]. rememberMe selects the longer refresh
// lifetime and is inherited by every rotation in the family.
func (e *Engine) Login(ctx context.Context, username, pass string, rememberMe bool) (*AuthResult, error) {
	if e == nil || e.hasher == nil || e.users == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" || pass == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "empty_input",
			}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.users.GetUserByIdentifier(ctx, username)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "user_not_found",
			}
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "password_mismatch",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := e.hasher.Hash(pass); err == nil {
				// Best effort; a failed write just retries on the next login.
				if err := e.users.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
					log.Print("sentinel: password hash upgrade update failed")
				}
			} else {
				log.Print("sentinel: password hash upgrade generation failed")
			}
		}
	}
	pass = ""

	now := e.clock.Now()
	if err := e.enforceSessionCap(ctx, user.UserID, now); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, err, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "session_cap",
			}
		})
		return nil, err
	}

	result, err := e.issueTokens(ctx, user, uuid.NewString(), now, rememberMe, now)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, err, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "token_issue_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"identifier": username,
		}
	})

	return result, nil
}

// issueTokens mints an access token and a refresh token in the given family
// and persists the refresh record. The refresh expiry never extends past the
// family's absolute session deadline.
func (e *Engine) issueTokens(
	ctx context.Context,
	user UserRecord,
	familyID string,
	sessionStartedAt time.Time,
	remember bool,
	now time.Time,
) (*AuthResult, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	ttl := e.config.Refresh.DefaultTTL
	if remember {
		ttl = e.config.Refresh.RememberMeTTL
	}
	expiresAt := now.Add(ttl)
	if deadline := sessionStartedAt.Add(e.config.Refresh.AbsoluteSessionTimeout); expiresAt.After(deadline) {
		expiresAt = deadline
	}

	record := &store.RefreshToken{
		TokenHash:        internal.HashSecret(secret),
		UserID:           user.UserID,
		FamilyID:         familyID,
		Remember:         remember,
		SessionStartedAt: sessionStartedAt,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
		CreatedByIP:      clientIPFromContext(ctx),
	}
	if err := e.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, user.Username, user.Roles)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		UserID:                 user.UserID,
		Username:               user.Username,
		AccessToken:            access,
		RefreshToken:           internal.EncodeSecret(secret),
		ExpiresAt:              expiresAt,
		RequiresPasswordChange: user.RequiresPasswordChange,
	}, nil
}

// enforceSessionCap evicts oldest active sessions until the user is under
// the configured cap, making room for the session about to be created. The
// new login always wins over old sessions.
func (e *Engine) enforceSessionCap(ctx context.Context, userID string, now time.Time) error {
	max := e.config.Refresh.MaxSessionsPerUser
	if max < 1 {
		return nil
	}

	count, err := e.tokens.CountActive(ctx, userID, now)
	if err != nil {
		return err
	}
	for count >= max {
		if err := e.tokens.RevokeOldestActive(ctx, userID, now); err != nil {
			return err
		}
		count--
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, userID, nil, nil)
	}
	return nil
}
