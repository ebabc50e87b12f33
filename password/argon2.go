// Package password implements Argon2id credential hashing with
// self-describing PHC-format output. All parameters needed for verification
// are embedded in the hash string itself, so cost parameters can be raised
// over time without re-hashing every stored credential at once.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Config holds the Argon2id cost parameters used for new hashes.
// Verification always uses the parameters embedded in the stored hash, not
// these values.
type Config struct {
	Memory      uint32 // KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords. Safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg against hard minimums and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an Argon2id digest over password with a fresh random salt and
// returns it as a PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt-b64>$<digest-b64>
//
// An empty or whitespace-only password is a caller contract violation and is
// rejected before any hashing work.
func (h *Hasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest),
	), nil
}

// Verify recomputes the digest using the parameters embedded in encodedHash
// and compares in constant time. Malformed hashes verify as false rather than
// returning an error: adversarial input must not produce a distinguishable
// failure mode.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, ok := parsePHC(encodedHash)
	if !ok {
		return false, nil
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.digest)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.digest) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current config and should be re-hashed on next
// successful login. A malformed hash is a data-integrity defect here (the
// caller fetched it from its own storage) and returns an error.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, ok := parsePHC(encodedHash)
	if !ok {
		return false, errors.New("malformed stored password hash")
	}

	if h.config.Memory > parsed.memory ||
		h.config.Time > parsed.time ||
		h.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.config.KeyLength != uint32(len(parsed.digest)) {
		return true, nil
	}
	return false, nil
}

type phcFields struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	digest      []byte
}

func parsePHC(encoded string) (phcFields, bool) {
	var out phcFields

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return out, false
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil || version != argon2.Version {
		return out, false
	}

	if !parseCostParams(parts[3], &out) {
		return out, false
	}

	out.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(out.salt) < int(minSaltLength) {
		return out, false
	}
	out.digest, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(out.digest) == 0 {
		return out, false
	}

	return out, true
}

func parseCostParams(part string, out *phcFields) bool {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return false
	}

	var haveM, haveT, haveP bool
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return false
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return false
			}
			out.memory = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return false
			}
			out.time = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return false
			}
			out.parallelism = uint8(v)
			haveP = true
		default:
			return false
		}
	}

	return haveM && haveT && haveP
}
