package sentinel

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/sentinelkit/sentinel/internal"
	"github.com/sentinelkit/sentinel/store"
)

// CreateTrustedDevice mints a "remember this device" token for the user,
// bound to a fingerprint of the user agent and coarsened IP. The plaintext
// token is returned exactly once; only its hash is stored. When the user is
// at the device cap, the least recently used device is evicted first.
func (e *Engine) CreateTrustedDevice(ctx context.Context, userID, userAgent, ip string) (string, error) {
	if e == nil || e.devices == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.TrustedDevice.Enabled {
		return "", ErrEngineNotReady
	}
	if userID == "" {
		return "", ErrUserNotFound
	}

	count, err := e.devices.Count(ctx, userID)
	if err != nil {
		return "", err
	}
	for count >= e.config.TrustedDevice.MaxDevicesPerUser {
		if err := e.devices.DeleteOldestByLastUse(ctx, userID); err != nil {
			return "", err
		}
		count--
	}

	token, err := internal.NewDeviceToken()
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	device := &store.TrustedDevice{
		UserID:      userID,
		TokenHash:   internal.HashSecret(token),
		Fingerprint: internal.Fingerprint(userAgent, ip),
		DeviceName:  deviceNameFromUserAgent(userAgent),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.TrustedDevice.TTL),
		LastUsedAt:  now,
	}
	if err := e.devices.Create(ctx, device); err != nil {
		return "", err
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, userID, nil, func() map[string]string {
		return map[string]string{"device_name": device.DeviceName}
	})

	return internal.EncodeSecret(token), nil
}

// ValidateTrustedDevice checks a device token for the user against the
// current user agent and IP. The fingerprint must match exactly; the same
// browser on the same network stays trusted across DHCP churn, a different
// network does not. Validation slides LastUsedAt but never the expiry:
// device trust ends at its original deadline no matter how often it is used.
func (e *Engine) ValidateTrustedDevice(ctx context.Context, userID, token, userAgent, ip string) (bool, error) {
	if e == nil || e.devices == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.TrustedDevice.Enabled {
		return false, nil
	}

	hash, ok := internal.HashSecretText(token)
	if !ok {
		e.rejectDevice(ctx, userID, "malformed_token")
		return false, nil
	}

	device, err := e.devices.Find(ctx, userID, hash)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			e.rejectDevice(ctx, userID, "unknown_token")
			return false, nil
		}
		return false, err
	}

	now := e.clock.Now()
	if !now.Before(device.ExpiresAt) {
		e.rejectDevice(ctx, userID, "expired")
		return false, nil
	}

	presented := internal.Fingerprint(userAgent, ip)
	if subtle.ConstantTimeCompare(presented[:], device.Fingerprint[:]) != 1 {
		e.rejectDevice(ctx, userID, "fingerprint_mismatch")
		return false, nil
	}

	if err := e.devices.Touch(ctx, userID, hash, now); err != nil && !errors.Is(err, store.ErrDeviceNotFound) {
		return false, err
	}

	e.metricInc(MetricDeviceValidated)
	e.emitAudit(ctx, auditEventDeviceValidated, true, userID, nil, func() map[string]string {
		return map[string]string{"device_name": device.DeviceName}
	})
	return true, nil
}

// RevokeTrustedDevice removes one trusted device. Unknown tokens are a
// no-op.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, userID, token string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}

	hash, ok := internal.HashSecretText(token)
	if !ok {
		return nil
	}

	if err := e.devices.Delete(ctx, userID, hash); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, nil, nil)
	return nil
}

// RevokeAllTrustedDevices removes every trusted device for the user and
// returns how many were removed.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, userID string) (int, error) {
	if e == nil || e.devices == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}

	removed, err := e.devices.DeleteAllForUser(ctx, userID)
	if err != nil {
		return removed, err
	}
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"scope": "all"}
	})
	return removed, nil
}

func (e *Engine) rejectDevice(ctx context.Context, userID, reason string) {
	e.metricInc(MetricDeviceRejected)
	e.emitAudit(ctx, auditEventDeviceRejected, false, userID, ErrTrustedDeviceInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// deviceNameFromUserAgent produces a coarse human-readable label for device
// listings. It is cosmetic; the fingerprint is what gets verified.
func deviceNameFromUserAgent(userAgent string) string {
	ua := strings.ToLower(userAgent)

	browser := "Unknown browser"
	switch {
	case strings.Contains(ua, "edg/"):
		browser = "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		browser = "Opera"
	case strings.Contains(ua, "chrome/"):
		browser = "Chrome"
	case strings.Contains(ua, "firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "safari/"):
		browser = "Safari"
	}

	os := "unknown OS"
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		os = "iOS"
	case strings.Contains(ua, "mac os"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	}

	return browser + " on " + os
}
