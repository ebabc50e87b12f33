package sentinel

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/sentinelkit/sentinel/internal"
	"github.com/sentinelkit/sentinel/store"
)

// Refresh rotates a refresh token: the presented token is revoked and a
// successor in the same family is issued. Presenting an already-revoked
// token is treated as theft evidence; the entire family is revoked and
// [ErrRefreshReuse] is returned. Two concurrent rotations of the same token
// race on the revocation compare-and-set, so exactly one wins and the other
// takes the reuse path.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if e == nil || e.tokens == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	hash, ok := internal.HashSecretText(refreshToken)
	if !ok {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "malformed"}
		})
		return nil, ErrRefreshInvalid
	}

	record, err := e.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrRefreshInvalid, func() map[string]string {
				return map[string]string{"reason": "unknown_token"}
			})
			return nil, ErrRefreshInvalid
		}
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	now := e.clock.Now()

	// Deadline before per-token expiry: successors are capped at the
	// deadline, so a session that ran its full course reports expiry of the
	// session, not of the individual token.
	if !now.Before(record.SessionStartedAt.Add(e.config.Refresh.AbsoluteSessionTimeout)) {
		if _, err := e.tokens.RevokeFamily(ctx, record.FamilyID, now); err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, err
		}
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventSessionExpired, false, record.UserID, ErrSessionExpired, func() map[string]string {
			return map[string]string{"family_id": record.FamilyID}
		})
		return nil, ErrSessionExpired
	}

	if !now.Before(record.ExpiresAt) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.UserID, ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return nil, ErrRefreshInvalid
	}

	if record.Revoked() {
		return nil, e.handleRefreshReuse(ctx, record, now)
	}

	won, err := e.tokens.MarkRevoked(ctx, hash, now)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	if !won {
		// A concurrent rotation revoked it between our read and the CAS.
		return nil, e.handleRefreshReuse(ctx, record, now)
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.UserID, ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "user_lookup_failed"}
		})
		return nil, ErrRefreshInvalid
	}

	if err := e.enforceSessionCap(ctx, record.UserID, now); err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	result, err := e.issueTokens(ctx, user, record.FamilyID, record.SessionStartedAt, record.Remember, now)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.UserID, err, func() map[string]string {
			return map[string]string{"reason": "token_issue_failed"}
		})
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, record.UserID, nil, func() map[string]string {
		return map[string]string{"family_id": record.FamilyID}
	})

	return result, nil
}

// handleRefreshReuse revokes the whole family of a replayed token and
// returns [ErrRefreshReuse]. A store failure during family revocation is
// logged but the reuse error still wins: the caller must re-authenticate
// either way.
func (e *Engine) handleRefreshReuse(ctx context.Context, record *store.RefreshToken, now time.Time) error {
	revoked, err := e.tokens.RevokeFamily(ctx, record.FamilyID, now)
	if err != nil {
		log.Print("sentinel: family revocation after refresh reuse failed")
	}
	log.Printf("sentinel: refresh token reuse detected for user %s, revoked family %s", record.UserID, record.FamilyID)

	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, record.UserID, ErrRefreshReuse, func() map[string]string {
		return map[string]string{
			"family_id": record.FamilyID,
			"revoked":   strconv.Itoa(revoked),
		}
	})
	return ErrRefreshReuse
}

// ValidateRefresh checks a refresh token without rotating it: the token must
// exist, be unrevoked, be unexpired, and be inside its absolute session
// window. It returns the owning user's ID.
func (e *Engine) ValidateRefresh(ctx context.Context, refreshToken string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}

	hash, ok := internal.HashSecretText(refreshToken)
	if !ok {
		return "", ErrRefreshInvalid
	}

	record, err := e.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return "", ErrRefreshInvalid
		}
		return "", err
	}

	now := e.clock.Now()
	if !now.Before(record.SessionStartedAt.Add(e.config.Refresh.AbsoluteSessionTimeout)) {
		return "", ErrSessionExpired
	}
	if record.Revoked() || !now.Before(record.ExpiresAt) {
		return "", ErrRefreshInvalid
	}

	return record.UserID, nil
}

// Logout revokes the presented refresh token. Unknown and already-revoked
// tokens are a no-op: logout is idempotent and reveals nothing about token
// state.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	hash, ok := internal.HashSecretText(refreshToken)
	if !ok {
		return nil
	}

	won, err := e.tokens.MarkRevoked(ctx, hash, e.clock.Now())
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if won {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogout, true, "", nil, nil)
	}
	return nil
}

// LogoutAll revokes every active refresh token for the user across all
// families and devices, and returns how many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}

	revoked, err := e.tokens.RevokeAllForUser(ctx, userID, e.clock.Now())
	if err != nil {
		return revoked, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}
