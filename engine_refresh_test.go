package sentinel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshRotatesToken(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	clk.Advance(10 * time.Minute)
	rotated, err := engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}
	if rotated.UserID != "user-1" {
		t.Fatalf("unexpected user on rotation: %q", rotated.UserID)
	}

	// The presented token is spent.
	if _, err := engine.ValidateRefresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected rotated-out token to be invalid, got %v", err)
	}
	if _, err := engine.ValidateRefresh(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("successor token should validate: %v", err)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	rotated, err := engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// Replaying the spent token is theft evidence.
	if _, err := engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// The successor went down with the family.
	if _, err := engine.Refresh(context.Background(), rotated.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected successor to be revoked with the family, got %v", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 2 {
		t.Fatalf("expected 2 reuse detections, got %d", got)
	}
}

func TestRefreshReuseDoesNotTouchOtherFamilies(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	phone, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("phone login failed: %v", err)
	}
	laptop, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("laptop login failed: %v", err)
	}

	rotated, err := engine.Refresh(context.Background(), phone.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := engine.Refresh(context.Background(), phone.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	_ = rotated

	// The laptop's family is a different device and stays live.
	if _, err := engine.Refresh(context.Background(), laptop.RefreshToken); err != nil {
		t.Fatalf("unrelated family must survive reuse elsewhere: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	clk.Advance(cfg.Refresh.DefaultTTL + time.Second)
	if _, err := engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for expired token, got %v", err)
	}
}

func TestRefreshAbsoluteSessionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.DefaultTTL = time.Hour
	cfg.Refresh.RememberMeTTL = time.Hour
	cfg.Refresh.AbsoluteSessionTimeout = 3 * time.Hour
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	result, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Rotate every half hour; each rotation succeeds until the ceiling.
	for i := 0; i < 5; i++ {
		clk.Advance(30 * time.Minute)
		result, err = engine.Refresh(context.Background(), result.RefreshToken)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i+1, err)
		}
	}

	// 2h30m in: the last successor must not outlive the 3h ceiling.
	deadline := clk.Now().Add(-150 * time.Minute).Add(cfg.Refresh.AbsoluteSessionTimeout)
	if result.ExpiresAt.After(deadline) {
		t.Fatalf("successor expiry %v extends past session deadline %v", result.ExpiresAt, deadline)
	}

	clk.Advance(31 * time.Minute)
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired at absolute deadline, got %v", err)
	}
}

func TestRefreshInheritsRememberLifetime(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rotated, err := engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if want := clk.Now().Add(cfg.Refresh.RememberMeTTL); !rotated.ExpiresAt.Equal(want) {
		t.Fatalf("successor should inherit remember-me lifetime: want %v, got %v", want, rotated.ExpiresAt)
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	for _, token := range []string{"", "not-base64!!", "c2hvcnQ"} {
		if _, err := engine.Refresh(context.Background(), token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("token %q: expected ErrRefreshInvalid, got %v", token, err)
		}
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(context.Background(), login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	reuse := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshReuse):
			reuse++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one refresh winner, got %d", success)
	}
	if reuse != n-1 {
		t.Fatalf("expected %d reuse losers, got %d", n-1, reuse)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	cfg := testConfig()
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	login, err := engine.Login(context.Background(), "alice", testPassword, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := engine.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := engine.ValidateRefresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("token should be revoked after logout, got %v", err)
	}

	// Repeated and garbage logouts are no-ops.
	if err := engine.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}
	if err := engine.Logout(context.Background(), "garbage"); err != nil {
		t.Fatalf("garbage logout should be a no-op: %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.MaxSessionsPerUser = 5
	up := newMockUserProvider()
	clk := newFakeClock()
	addTestUser(t, cfg, up)
	engine := newTestEngine(t, cfg, up, clk)

	var tokens []string
	for i := 0; i < 3; i++ {
		result, err := engine.Login(context.Background(), "alice", testPassword, false)
		if err != nil {
			t.Fatalf("login %d failed: %v", i+1, err)
		}
		tokens = append(tokens, result.RefreshToken)
	}

	revoked, err := engine.LogoutAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", revoked)
	}
	for i, token := range tokens {
		if _, err := engine.ValidateRefresh(context.Background(), token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("session %d should be revoked, got %v", i+1, err)
		}
	}
}
