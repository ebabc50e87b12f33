package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testManager(t *testing.T, now time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		SigningKey: testKey,
		Issuer:     "sentinel-test",
		Leeway:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m.WithClock(func() time.Time { return now })
}

func TestCreateAndParseAccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, now)

	token, err := m.CreateAccess("user-1", "alice", []string{"member", "admin"})
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "alice" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "member" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.Issuer != "sentinel-test" {
		t.Fatalf("unexpected issuer: %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("jti must be set")
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt.Time)
	}
}

func TestAccessTokensCarryUniqueIDs(t *testing.T) {
	m := testManager(t, time.Now())

	first, err := m.CreateAccess("user-1", "alice", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	second, err := m.CreateAccess("user-1", "alice", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	a, err := m.ParseAccess(first)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	b, err := m.ParseAccess(second)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("two tokens must carry distinct jti values")
	}
}

func TestParseAccessRejectsWrongKey(t *testing.T) {
	now := time.Now()
	m := testManager(t, now)

	token, err := m.CreateAccess("user-1", "alice", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	other, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		SigningKey: []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:     "sentinel-test",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := other.WithClock(func() time.Time { return now }).ParseAccess(token); err == nil {
		t.Fatal("token signed with a different key must not parse")
	}
}

func TestParseAccessRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, issuedAt)

	token, err := m.CreateAccess("user-1", "alice", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	// Inside leeway still parses; past it does not.
	late := m.WithClock(func() time.Time { return issuedAt.Add(15*time.Minute + 10*time.Second) })
	if _, err := late.ParseAccess(token); err != nil {
		t.Fatalf("token inside leeway rejected: %v", err)
	}
	expired := m.WithClock(func() time.Time { return issuedAt.Add(16 * time.Minute) })
	if _, err := expired.ParseAccess(token); err == nil {
		t.Fatal("expired token must not parse")
	}
}

func TestParseAccessRejectsUnsignedAlgorithm(t *testing.T) {
	now := time.Now()
	m := testManager(t, now)

	unsigned := gojwt.NewWithClaims(gojwt.SigningMethodNone, AccessClaims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "sentinel-test",
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing unsecured token failed: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("alg=none token must not parse")
	}
}

func TestParseAccessRejectsWrongIssuer(t *testing.T) {
	now := time.Now()
	m := testManager(t, now)

	other, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		SigningKey: testKey,
		Issuer:     "someone-else",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, err := other.WithClock(func() time.Time { return now }).CreateAccess("user-1", "alice", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("token from a different issuer must not parse")
	}
}

func TestCreateAccessRequiresUserID(t *testing.T) {
	m := testManager(t, time.Now())
	if _, err := m.CreateAccess("", "alice", nil); err == nil {
		t.Fatal("empty user id must fail")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningKey: testKey}},
		{"short key", Config{AccessTTL: time.Minute, SigningKey: []byte("short")}},
		{"negative leeway", Config{AccessTTL: time.Minute, SigningKey: testKey, Leeway: -time.Second}},
		{"huge leeway", Config{AccessTTL: time.Minute, SigningKey: testKey, Leeway: time.Hour}},
	}
	for _, tc := range cases {
		if _, err := NewManager(tc.cfg); err == nil {
			t.Fatalf("%s: expected construction to fail", tc.name)
		}
	}
}
