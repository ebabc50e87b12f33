package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const touchDeviceScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
return 1
`

var touchDeviceLua = redis.NewScript(touchDeviceScript)

// RedisDeviceStore implements [TrustedDeviceStore] on a Redis backend. Each
// device is a hash keyed by user id and token hash, indexed per user for
// counting and eviction. Record keys expire with the device grant.
type RedisDeviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisDeviceStore returns a RedisDeviceStore using prefix as its key
// namespace.
func NewRedisDeviceStore(client redis.UniversalClient, prefix string) *RedisDeviceStore {
	if prefix == "" {
		prefix = "sentinel"
	}
	return &RedisDeviceStore{redis: client, prefix: prefix}
}

func (s *RedisDeviceStore) deviceKey(userID string, hash [32]byte) string {
	return s.prefix + ":td:" + userID + ":" + hex.EncodeToString(hash[:])
}

func (s *RedisDeviceStore) userKey(userID string) string {
	return s.prefix + ":tdu:" + userID
}

// Find returns the trusted device for userID and hash.
func (s *RedisDeviceStore) Find(ctx context.Context, userID string, hash [32]byte) (*TrustedDevice, error) {
	fields, err := s.redis.HGetAll(ctx, s.deviceKey(userID, hash)).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrDeviceNotFound
	}
	return decodeDevice(userID, hash, fields)
}

// Create persists device and adds it to the user's device index.
func (s *RedisDeviceStore) Create(ctx context.Context, device *TrustedDevice) error {
	key := s.deviceKey(device.UserID, device.TokenHash)
	hashHex := hex.EncodeToString(device.TokenHash[:])
	indexTTL := device.ExpiresAt.Sub(device.CreatedAt)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeDevice(device))
		pipe.PExpireAt(ctx, key, device.ExpiresAt)
		pipe.SAdd(ctx, s.userKey(device.UserID), hashHex)
		pipe.ExpireGT(ctx, s.userKey(device.UserID), indexTTL)
		return nil
	})
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Count returns the number of live devices for the user. Stale index members
// whose record keys have expired are pruned as a side effect.
func (s *RedisDeviceStore) Count(ctx context.Context, userID string) (int, error) {
	devices, stale, err := s.userDevices(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pruneIndex(ctx, s.userKey(userID), stale)
	return len(devices), nil
}

// DeleteOldestByLastUse evicts the least recently used device for the user.
func (s *RedisDeviceStore) DeleteOldestByLastUse(ctx context.Context, userID string) error {
	devices, stale, err := s.userDevices(ctx, userID)
	if err != nil {
		return err
	}
	s.pruneIndex(ctx, s.userKey(userID), stale)

	var oldest *TrustedDevice
	for _, device := range devices {
		if oldest == nil || device.LastUsedAt.Before(oldest.LastUsedAt) {
			oldest = device
		}
	}
	if oldest == nil {
		return nil
	}
	return s.Delete(ctx, userID, oldest.TokenHash)
}

// Touch updates LastUsedAt for a device. The record key's TTL is left
// untouched; trust windows do not slide. The existence check and write run
// as a script so a touch cannot resurrect an expired record without a TTL.
func (s *RedisDeviceStore) Touch(ctx context.Context, userID string, hash [32]byte, at time.Time) error {
	result, err := touchDeviceLua.Run(
		ctx,
		s.redis,
		[]string{s.deviceKey(userID, hash)},
		strconv.FormatInt(at.Unix(), 10),
	).Int64()
	if err != nil {
		return wrapUnavailable(err)
	}
	if result == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a single trusted device and its index entry.
func (s *RedisDeviceStore) Delete(ctx context.Context, userID string, hash [32]byte) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.deviceKey(userID, hash))
		pipe.SRem(ctx, s.userKey(userID), hex.EncodeToString(hash[:]))
		return nil
	})
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// DeleteAllForUser removes every trusted device for the user and returns how
// many records were removed.
func (s *RedisDeviceStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	devices, _, err := s.userDevices(ctx, userID)
	if err != nil {
		return 0, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, device := range devices {
			pipe.Del(ctx, s.deviceKey(userID, device.TokenHash))
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return len(devices), nil
}

func (s *RedisDeviceStore) userDevices(ctx context.Context, userID string) ([]*TrustedDevice, []string, error) {
	members, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, wrapUnavailable(err)
	}
	if len(members) == 0 {
		return nil, nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		hash, ok := decodeHashHex(member)
		if !ok {
			continue
		}
		cmds[i] = pipe.HGetAll(ctx, s.deviceKey(userID, hash))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, wrapUnavailable(err)
	}

	var (
		devices []*TrustedDevice
		stale   []string
	)
	for i, cmd := range cmds {
		if cmd == nil {
			stale = append(stale, members[i])
			continue
		}
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, nil, wrapUnavailable(cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, members[i])
			continue
		}
		hash, _ := decodeHashHex(members[i])
		device, decErr := decodeDevice(userID, hash, fields)
		if decErr != nil {
			return nil, nil, decErr
		}
		devices = append(devices, device)
	}
	return devices, stale, nil
}

func (s *RedisDeviceStore) pruneIndex(ctx context.Context, key string, stale []string) {
	if len(stale) == 0 {
		return
	}
	members := make([]interface{}, len(stale))
	for i, m := range stale {
		members[i] = m
	}
	_ = s.redis.SRem(ctx, key, members...).Err()
}

func encodeDevice(device *TrustedDevice) map[string]interface{} {
	return map[string]interface{}{
		"fingerprint":  hex.EncodeToString(device.Fingerprint[:]),
		"device_name":  device.DeviceName,
		"created_at":   strconv.FormatInt(device.CreatedAt.Unix(), 10),
		"expires_at":   strconv.FormatInt(device.ExpiresAt.Unix(), 10),
		"last_used_at": strconv.FormatInt(device.LastUsedAt.Unix(), 10),
	}
}

func decodeDevice(userID string, hash [32]byte, fields map[string]string) (*TrustedDevice, error) {
	createdAt, err1 := parseUnixField(fields, "created_at")
	expiresAt, err2 := parseUnixField(fields, "expires_at")
	lastUsedAt, err3 := parseUnixField(fields, "last_used_at")
	fingerprint, ok := decodeHashHex(fields["fingerprint"])
	if err1 != nil || err2 != nil || err3 != nil || !ok {
		return nil, fmt.Errorf("%w: corrupt trusted device record", ErrStoreUnavailable)
	}

	return &TrustedDevice{
		UserID:      userID,
		TokenHash:   hash,
		Fingerprint: fingerprint,
		DeviceName:  fields["device_name"],
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
		LastUsedAt:  lastUsedAt,
	}, nil
}
