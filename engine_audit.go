package sentinel

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventSessionExpired       = "session_expired"
	auditEventSessionEvicted       = "session_evicted"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventTOTPEnrolled         = "totp_enrolled"
	auditEventTOTPSuccess          = "totp_success"
	auditEventTOTPFailure          = "totp_failure"
	auditEventDeviceTrusted        = "device_trusted"
	auditEventDeviceValidated      = "device_validated"
	auditEventDeviceRejected       = "device_rejected"
	auditEventDeviceRevoked        = "device_revoked"
	auditEventOAuthCodeIssued      = "oauth_code_issued"
	auditEventOAuthCodeExchanged   = "oauth_code_exchanged"
	auditEventOAuthCodeRejected    = "oauth_code_rejected"
)

// AuditErrorCode is the stable error label carried on audit events, decoupled
// from Go error messages.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrDeviceInvalid      AuditErrorCode = "device_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrTOTPInvalid),
		errors.Is(err, ErrTOTPNotConfigured):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTrustedDeviceInvalid):
		return auditErrDeviceInvalid
	case errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
