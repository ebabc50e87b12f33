package sentinel

import "context"

// EnrollTOTP generates a fresh TOTP secret for the user, stores it through
// the UserProvider, and returns the base32 secret and otpauth:// URI for the
// authenticator app. Re-enrolling replaces any previous secret.
func (e *Engine) EnrollTOTP(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if e == nil || e.totp == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	raw, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.users.SaveTOTPSecret(ctx, userID, raw); err != nil {
		return nil, err
	}

	account := user.Username
	if account == "" {
		account = user.UserID
	}

	e.emitAudit(ctx, auditEventTOTPEnrolled, true, userID, nil, nil)

	return &TOTPEnrollment{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, account),
	}, nil
}

// VerifyTOTP checks a code against the user's enrolled secret. Wrong codes
// and replayed codes both fail with [ErrTOTPInvalid]; a user with no secret
// fails with [ErrTOTPNotConfigured]. On success the matched counter is
// persisted so the same code cannot be accepted twice.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	if e == nil || e.totp == nil || e.users == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return false, ErrEngineNotReady
	}
	if userID == "" {
		return false, ErrUserNotFound
	}

	record, err := e.users.GetTOTPSecret(ctx, userID)
	if err != nil {
		return false, err
	}
	if record == nil || len(record.Secret) == 0 {
		return false, ErrTOTPNotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, e.clock.Now())
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, ErrTOTPInvalid, func() map[string]string {
			return map[string]string{"reason": "code_mismatch"}
		})
		return false, ErrTOTPInvalid
	}

	if e.config.TOTP.EnforceReplayProtection {
		if counter <= record.LastUsedCounter {
			e.metricInc(MetricTOTPFailure)
			e.emitAudit(ctx, auditEventTOTPFailure, false, userID, ErrTOTPInvalid, func() map[string]string {
				return map[string]string{"reason": "replay"}
			})
			return false, ErrTOTPInvalid
		}
		if err := e.users.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
			return false, err
		}
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, userID, nil, nil)
	return true, nil
}
