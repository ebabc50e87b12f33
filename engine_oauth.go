package sentinel

import (
	"context"
	"time"
)

// StoreOAuthTokens parks a freshly issued token pair behind a one-time
// exchange code. The OAuth callback handler calls this server-side, then
// redirects the browser with only the short-lived code in the URL; the
// tokens themselves never appear in a redirect.
func (e *Engine) StoreOAuthTokens(ctx context.Context, access, refresh string, expiresAt time.Time) (string, error) {
	if e == nil || e.exchange == nil {
		return "", ErrEngineNotReady
	}

	code, err := e.exchange.Store(OAuthTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return "", err
	}

	e.metricInc(MetricOAuthCodeIssued)
	e.emitAudit(ctx, auditEventOAuthCodeIssued, true, "", nil, nil)
	return code, nil
}

// ExchangeOAuthCode redeems a one-time code for its parked token pair. A
// code works exactly once; unknown, expired, and already-redeemed codes are
// indistinguishable and all report false.
func (e *Engine) ExchangeOAuthCode(ctx context.Context, code string) (*OAuthTokens, bool) {
	if e == nil || e.exchange == nil {
		return nil, false
	}

	tokens, ok := e.exchange.Take(code)
	if !ok {
		e.metricInc(MetricOAuthCodeRejected)
		e.emitAudit(ctx, auditEventOAuthCodeRejected, false, "", nil, nil)
		return nil, false
	}

	e.metricInc(MetricOAuthCodeExchanged)
	e.emitAudit(ctx, auditEventOAuthCodeExchanged, true, "", nil, nil)
	return tokens, true
}
