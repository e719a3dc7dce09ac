package microauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported values for security.password_algo.
const (
	AlgoArgon2id = "argon2id"
	AlgoBcrypt   = "bcrypt"
)

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

var errMalformedHash = errors.New("malformed password hash")

// PasswordHasher hashes and verifies passwords with the configured
// algorithm. Verify accepts hashes from either algorithm so stored hashes
// keep working after the configuration changes.
type PasswordHasher struct {
	Algo          string
	BcryptCost    int
	Argon2Memory  uint32
	Argon2Time    uint32
	Argon2Threads uint8
}

// Default and maximum argon2id settings. Memory is in KiB.
const (
	defaultArgon2Memory  = 64 * 1024
	defaultArgon2Time    = 4
	defaultArgon2Threads = 1

	maxArgon2Memory = 1024 * 1024
	maxArgon2Time   = 64
)

// PasswordHasherFromConfig reads the security.* hashing settings. Values
// outside the supported ranges fall back to the defaults.
func PasswordHasherFromConfig(cfg ConfigProvider) *PasswordHasher {
	h := &PasswordHasher{
		Algo:          configString(cfg, "security.password_algo", AlgoArgon2id),
		BcryptCost:    bcrypt.DefaultCost,
		Argon2Memory:  defaultArgon2Memory,
		Argon2Time:    defaultArgon2Time,
		Argon2Threads: defaultArgon2Threads,
	}
	if cost := configInt(cfg, "security.bcrypt_cost", int64(bcrypt.DefaultCost)); cost >= int64(bcrypt.MinCost) && cost <= int64(bcrypt.MaxCost) {
		h.BcryptCost = int(cost)
	}
	if m := configInt(cfg, "security.argon2.memory", defaultArgon2Memory); m >= 8 && m <= maxArgon2Memory {
		h.Argon2Memory = uint32(m)
	}
	if t := configInt(cfg, "security.argon2.time", defaultArgon2Time); t >= 1 && t <= maxArgon2Time {
		h.Argon2Time = uint32(t)
	}
	if p := configInt(cfg, "security.argon2.threads", defaultArgon2Threads); p >= 1 && p <= math.MaxUint8 {
		h.Argon2Threads = uint8(p)
	}
	if !validArgon2(h.Argon2Memory, h.Argon2Time, h.Argon2Threads) {
		h.Argon2Memory, h.Argon2Threads = defaultArgon2Memory, defaultArgon2Threads
	}
	return h
}

var errBadArgon2Params = errors.New("argon2 parameters out of range")

// validArgon2 reports whether argon2.IDKey accepts the parameters without
// panicking and within the memory ceiling.
func validArgon2(memory, time uint32, threads uint8) bool {
	return time >= 1 && time <= maxArgon2Time && threads >= 1 &&
		memory >= 8*uint32(threads) && memory <= maxArgon2Memory
}

// Hash returns an encoded hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.Algo == AlgoBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.BcryptCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(hash), nil
	}

	if !validArgon2(h.Argon2Memory, h.Argon2Time, h.Argon2Threads) {
		return "", errBadArgon2Params
	}
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Argon2Time, h.Argon2Memory, h.Argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Argon2Memory, h.Argon2Time, h.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded.
func (h *PasswordHasher) Verify(password, encoded string) bool {
	if strings.HasPrefix(encoded, "$argon2id$") {
		p, err := parseArgon2(encoded)
		if err != nil {
			return false
		}
		key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
		return subtle.ConstantTimeCompare(key, p.key) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}

// NeedsRehash reports whether encoded was produced with a different
// algorithm or different parameters than the current settings.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	if h.Algo == AlgoBcrypt {
		cost, err := bcrypt.Cost([]byte(encoded))
		return err != nil || cost != h.BcryptCost
	}
	p, err := parseArgon2(encoded)
	if err != nil {
		return true
	}
	return p.version != argon2.Version || p.memory != h.Argon2Memory ||
		p.time != h.Argon2Time || p.threads != h.Argon2Threads
}

type argon2Params struct {
	version int
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// parseArgon2 decodes $argon2id$v=19$m=65536,t=4,p=1$<salt>$<key>.
func parseArgon2(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgoArgon2id {
		return nil, errMalformedHash
	}
	p := &argon2Params{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &p.version); err != nil {
		return nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, errMalformedHash
	}
	if !validArgon2(p.memory, p.time, p.threads) {
		return nil, errMalformedHash
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errMalformedHash
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 || len(p.key) > 1024 {
		return nil, errMalformedHash
	}
	return p, nil
}
