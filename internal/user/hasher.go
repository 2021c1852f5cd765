package user

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords. Hash returns the encoded hash
// (salt included) and an algorithm label stored next to it.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// NewHasher returns the hasher named by PASSWORD_HASHER.
func NewHasher(name string, bcryptCost int) (PasswordHasher, error) {
	switch name {
	case "", "bcrypt":
		return BcryptHasher{Cost: bcryptCost}, nil
	case "argon2id":
		return DefaultArgon2Hasher(), nil
	}
	return nil, fmt.Errorf("unsupported password hasher %q", name)
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports hashes from another algorithm or a lower cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c < b.cost()
}

const argon2Prefix = "$argon2id$"

// Argon2Hasher encodes hashes in PHC format.
type Argon2Hasher struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func (a Argon2Hasher) Hash(pw string) (string, string, error) {
	salt := make([]byte, a.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", "", err
	}
	key := argon2.IDKey([]byte(pw), salt, a.Time, a.Memory, a.Parallelism, a.KeyLength)
	encoded := fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s", argon2Prefix, argon2.Version,
		a.Memory, a.Time, a.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))
	return encoded, "argon2id", nil
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parseArgon2(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, fmt.Errorf("invalid argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version")
	}
	var p argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, fmt.Errorf("invalid argon2 params: %w", err)
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("invalid argon2 salt: %w", err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("invalid argon2 key")
	}
	return &p, nil
}

func (a Argon2Hasher) Verify(hash, pw string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1
}

func (a Argon2Hasher) NeedsRehash(hash string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return true
	}
	return p.memory < a.Memory || p.time < a.Time || p.parallelism < a.Parallelism || uint32(len(p.key)) != a.KeyLength
}

// verifierFor picks the hasher able to check an existing hash, so accounts
// keep working after PASSWORD_HASHER changes.
func verifierFor(hash string, configured PasswordHasher) PasswordHasher {
	if strings.HasPrefix(hash, argon2Prefix) {
		if a, ok := configured.(Argon2Hasher); ok {
			return a
		}
		return DefaultArgon2Hasher()
	}
	if b, ok := configured.(BcryptHasher); ok {
		return b
	}
	return BcryptHasher{}
}
