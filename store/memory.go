package store

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStore is a mutex-guarded in-memory [RefreshTokenStore]. It is
// the reference implementation for tests and small single-process
// deployments; production setups should use [RedisTokenStore].
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[[32]byte]*RefreshToken
}

// NewMemoryTokenStore returns an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[[32]byte]*RefreshToken)}
}

// FindByHash returns a copy of the record for hash, revoked or not.
func (s *MemoryTokenStore) FindByHash(ctx context.Context, hash [32]byte) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *token
	return &copied, nil
}

// Create stores a copy of token.
func (s *MemoryTokenStore) Create(ctx context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *token
	s.tokens[token.TokenHash] = &copied
	return nil
}

// MarkRevoked performs the revocation compare-and-set under the store lock.
func (s *MemoryTokenStore) MarkRevoked(ctx context.Context, hash [32]byte, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[hash]
	if !ok {
		return false, ErrTokenNotFound
	}
	if token.Revoked() {
		return false, nil
	}
	token.RevokedAt = at
	return true, nil
}

// RevokeFamily revokes every not-yet-revoked member of the family.
func (s *MemoryTokenStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.FamilyID == familyID && !token.Revoked() {
			token.RevokedAt = at
			revoked++
		}
	}
	return revoked, nil
}

// CountActive counts the user's non-revoked, non-expired tokens at now.
func (s *MemoryTokenStore) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, token := range s.tokens {
		if token.UserID == userID && token.Active(now) {
			active++
		}
	}
	return active, nil
}

// RevokeOldestActive revokes the user's oldest active token by CreatedAt.
func (s *MemoryTokenStore) RevokeOldestActive(ctx context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *RefreshToken
	for _, token := range s.tokens {
		if token.UserID != userID || !token.Active(now) {
			continue
		}
		if oldest == nil || token.CreatedAt.Before(oldest.CreatedAt) {
			oldest = token
		}
	}
	if oldest != nil {
		oldest.RevokedAt = now
	}
	return nil
}

// RevokeAllForUser revokes every active token belonging to the user.
func (s *MemoryTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.UserID == userID && token.Active(at) {
			token.RevokedAt = at
			revoked++
		}
	}
	return revoked, nil
}

// MemoryDeviceStore is a mutex-guarded in-memory [TrustedDeviceStore].
type MemoryDeviceStore struct {
	mu      sync.Mutex
	devices map[string]map[[32]byte]*TrustedDevice
}

// NewMemoryDeviceStore returns an empty MemoryDeviceStore.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: make(map[string]map[[32]byte]*TrustedDevice)}
}

// Find returns a copy of the trusted device for userID and hash.
func (s *MemoryDeviceStore) Find(ctx context.Context, userID string, hash [32]byte) (*TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[userID][hash]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	copied := *device
	return &copied, nil
}

// Create stores a copy of device.
func (s *MemoryDeviceStore) Create(ctx context.Context, device *TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.devices[device.UserID] == nil {
		s.devices[device.UserID] = make(map[[32]byte]*TrustedDevice)
	}
	copied := *device
	s.devices[device.UserID][device.TokenHash] = &copied
	return nil
}

// Count returns the number of stored devices for the user.
func (s *MemoryDeviceStore) Count(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices[userID]), nil
}

// DeleteOldestByLastUse evicts the least recently used device for the user.
func (s *MemoryDeviceStore) DeleteOldestByLastUse(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *TrustedDevice
	for _, device := range s.devices[userID] {
		if oldest == nil || device.LastUsedAt.Before(oldest.LastUsedAt) {
			oldest = device
		}
	}
	if oldest != nil {
		delete(s.devices[userID], oldest.TokenHash)
	}
	return nil
}

// Touch updates LastUsedAt for a device.
func (s *MemoryDeviceStore) Touch(ctx context.Context, userID string, hash [32]byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[userID][hash]
	if !ok {
		return ErrDeviceNotFound
	}
	device.LastUsedAt = at
	return nil
}

// Delete removes a single trusted device.
func (s *MemoryDeviceStore) Delete(ctx context.Context, userID string, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices[userID], hash)
	return nil
}

// DeleteAllForUser removes every trusted device for the user.
func (s *MemoryDeviceStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.devices[userID])
	delete(s.devices, userID)
	return n, nil
}
