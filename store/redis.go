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

// markRevokedScript is the compare-and-set at the heart of rotation safety:
// the revoked_at field transitions away from "0" exactly once, no matter how
// many rotations race on the same token.
const markRevokedScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if not revoked then
  return -1
end
if revoked ~= "0" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 1
`

var markRevokedLua = redis.NewScript(markRevokedScript)

// RedisTokenStore implements [RefreshTokenStore] on a Redis backend. Token
// records are hashes keyed by the hex of the token hash; per-user and
// per-family sets index them for cap enforcement and family revocation.
// Record keys expire with the token, which doubles as cleanup.
type RedisTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTokenStore returns a RedisTokenStore using prefix as its key
// namespace.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "sentinel"
	}
	return &RedisTokenStore{redis: client, prefix: prefix}
}

func (s *RedisTokenStore) tokenKey(hash [32]byte) string {
	return s.prefix + ":rt:" + hex.EncodeToString(hash[:])
}

func (s *RedisTokenStore) userKey(userID string) string {
	return s.prefix + ":rtu:" + userID
}

func (s *RedisTokenStore) familyKey(familyID string) string {
	return s.prefix + ":rtf:" + familyID
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// FindByHash returns the record for hash, revoked or not.
func (s *RedisTokenStore) FindByHash(ctx context.Context, hash [32]byte) (*RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}
	return decodeToken(hash, fields)
}

// Create persists token and indexes it by user and family. Index sets only
// ever grow their TTL so the longest-lived member keeps them alive.
func (s *RedisTokenStore) Create(ctx context.Context, token *RefreshToken) error {
	key := s.tokenKey(token.TokenHash)
	hashHex := hex.EncodeToString(token.TokenHash[:])
	indexTTL := token.ExpiresAt.Sub(token.CreatedAt)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeToken(token))
		pipe.PExpireAt(ctx, key, token.ExpiresAt)
		pipe.SAdd(ctx, s.userKey(token.UserID), hashHex)
		pipe.ExpireGT(ctx, s.userKey(token.UserID), indexTTL)
		pipe.SAdd(ctx, s.familyKey(token.FamilyID), hashHex)
		pipe.ExpireGT(ctx, s.familyKey(token.FamilyID), indexTTL)
		return nil
	})
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// MarkRevoked performs the revocation CAS. It returns false when the token
// was already revoked and ErrTokenNotFound when no record exists.
func (s *RedisTokenStore) MarkRevoked(ctx context.Context, hash [32]byte, at time.Time) (bool, error) {
	result, err := markRevokedLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(hash)},
		strconv.FormatInt(at.Unix(), 10),
	).Int64()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	switch result {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrTokenNotFound
	}
}

// RevokeFamily revokes every member of the family that is not already
// revoked. Members whose record keys have expired are skipped.
func (s *RedisTokenStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int, error) {
	members, err := s.redis.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, wrapUnavailable(err)
	}

	revoked := 0
	for _, member := range members {
		hash, ok := decodeHashHex(member)
		if !ok {
			continue
		}
		won, err := s.MarkRevoked(ctx, hash, at)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return revoked, err
		}
		if won {
			revoked++
		}
	}
	return revoked, nil
}

// CountActive counts the user's non-revoked, non-expired tokens. Index
// entries whose records have expired are pruned as a side effect.
func (s *RedisTokenStore) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	tokens, stale, err := s.userTokens(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pruneIndex(ctx, s.userKey(userID), stale)

	active := 0
	for _, token := range tokens {
		if token.Active(now) {
			active++
		}
	}
	return active, nil
}

// RevokeOldestActive revokes the user's oldest active token by CreatedAt.
func (s *RedisTokenStore) RevokeOldestActive(ctx context.Context, userID string, now time.Time) error {
	tokens, stale, err := s.userTokens(ctx, userID)
	if err != nil {
		return err
	}
	s.pruneIndex(ctx, s.userKey(userID), stale)

	var oldest *RefreshToken
	for _, token := range tokens {
		if !token.Active(now) {
			continue
		}
		if oldest == nil || token.CreatedAt.Before(oldest.CreatedAt) {
			oldest = token
		}
	}
	if oldest == nil {
		return nil
	}

	_, err = s.MarkRevoked(ctx, oldest.TokenHash, now)
	if errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	return err
}

// RevokeAllForUser revokes every active token belonging to the user.
func (s *RedisTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	tokens, stale, err := s.userTokens(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pruneIndex(ctx, s.userKey(userID), stale)

	revoked := 0
	for _, token := range tokens {
		if !token.Active(at) {
			continue
		}
		won, err := s.MarkRevoked(ctx, token.TokenHash, at)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return revoked, err
		}
		if won {
			revoked++
		}
	}
	return revoked, nil
}

func (s *RedisTokenStore) userTokens(ctx context.Context, userID string) ([]*RefreshToken, []string, error) {
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
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(hash))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, wrapUnavailable(err)
	}

	var (
		tokens []*RefreshToken
		stale  []string
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
		token, decErr := decodeToken(hash, fields)
		if decErr != nil {
			return nil, nil, decErr
		}
		tokens = append(tokens, token)
	}
	return tokens, stale, nil
}

func (s *RedisTokenStore) pruneIndex(ctx context.Context, key string, stale []string) {
	if len(stale) == 0 {
		return
	}
	members := make([]interface{}, len(stale))
	for i, m := range stale {
		members[i] = m
	}
	// Best effort; a failed prune only delays the next one.
	_ = s.redis.SRem(ctx, key, members...).Err()
}

func encodeToken(token *RefreshToken) map[string]interface{} {
	revokedAt := int64(0)
	if token.Revoked() {
		revokedAt = token.RevokedAt.Unix()
	}
	remember := "0"
	if token.Remember {
		remember = "1"
	}
	return map[string]interface{}{
		"user_id":            token.UserID,
		"family_id":          token.FamilyID,
		"remember":           remember,
		"session_started_at": strconv.FormatInt(token.SessionStartedAt.Unix(), 10),
		"created_at":         strconv.FormatInt(token.CreatedAt.Unix(), 10),
		"expires_at":         strconv.FormatInt(token.ExpiresAt.Unix(), 10),
		"revoked_at":         strconv.FormatInt(revokedAt, 10),
		"created_by_ip":      token.CreatedByIP,
	}
}

func decodeToken(hash [32]byte, fields map[string]string) (*RefreshToken, error) {
	sessionStartedAt, err1 := parseUnixField(fields, "session_started_at")
	createdAt, err2 := parseUnixField(fields, "created_at")
	expiresAt, err3 := parseUnixField(fields, "expires_at")
	revokedAt, err4 := parseUnixField(fields, "revoked_at")
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, fmt.Errorf("%w: corrupt refresh token record", ErrStoreUnavailable)
	}

	return &RefreshToken{
		TokenHash:        hash,
		UserID:           fields["user_id"],
		FamilyID:         fields["family_id"],
		Remember:         fields["remember"] == "1",
		SessionStartedAt: sessionStartedAt,
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
		RevokedAt:        revokedAt,
		CreatedByIP:      fields["created_by_ip"],
	}, nil
}

func parseUnixField(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok {
		return time.Time{}, fmt.Errorf("missing field %s", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v, 0).UTC(), nil
}

func decodeHashHex(s string) ([32]byte, bool) {
	var hash [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return hash, false
	}
	copy(hash[:], raw)
	return hash, true
}
