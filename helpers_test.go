package sentinel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sentinelkit/sentinel/password"
	"github.com/sentinelkit/sentinel/store"
)

const testPassword = "correct-password-123"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockUserProvider struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string
	totpRecords  map[string]*TOTPRecord

	updatePasswordCalls int
	lastUpdatedHash     string
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:        make(map[string]UserRecord),
		byIdentifier: make(map[string]string),
		totpRecords:  make(map[string]*TOTPRecord),
	}
}

func (m *mockUserProvider) addUser(user UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = user
	m.byIdentifier[user.Username] = user.UserID
}

func (m *mockUserProvider) GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return m.users[userID], nil
}

func (m *mockUserProvider) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (m *mockUserProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	m.updatePasswordCalls++
	m.lastUpdatedHash = newHash
	return nil
}

func (m *mockUserProvider) GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.totpRecords[userID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *mockUserProvider) SaveTOTPSecret(ctx context.Context, userID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totpRecords[userID] = &TOTPRecord{Secret: secret, Enabled: true}
	return nil
}

func (m *mockUserProvider) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.totpRecords[userID]
	if !ok {
		return errors.New("not found")
	}
	record.LastUsedCounter = counter
	return nil
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Refresh.DefaultTTL = time.Hour
	cfg.Refresh.RememberMeTTL = 24 * time.Hour
	cfg.Refresh.AbsoluteSessionTimeout = 48 * time.Hour
	cfg.Refresh.MaxSessionsPerUser = 3
	cfg.TrustedDevice.TTL = 24 * time.Hour
	cfg.TrustedDevice.MaxDevicesPerUser = 2
	// Floor-level cost parameters keep hashing fast in tests.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16
	return cfg
}

func testHash(t *testing.T, cfg Config, pass string) string {
	t.Helper()
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return hash
}

func newTestEngine(t *testing.T, cfg Config, up *mockUserProvider, clk *fakeClock) *Engine {
	t.Helper()
	engine, err := New().
		WithConfig(cfg).
		WithTokenStore(store.NewMemoryTokenStore()).
		WithDeviceStore(store.NewMemoryDeviceStore()).
		WithUserProvider(up).
		WithClock(clk).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func addTestUser(t *testing.T, cfg Config, up *mockUserProvider) UserRecord {
	t.Helper()
	user := UserRecord{
		UserID:       "user-1",
		Username:     "alice",
		PasswordHash: testHash(t, cfg, testPassword),
		Roles:        []string{"member"},
	}
	up.addUser(user)
	return user
}
