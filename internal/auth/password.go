package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher produces self-contained salted one-way encodings and checks
// plaintexts against them by recomputation.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
}

const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"

	argon2idPrefix = "$argon2id$"
)

// NewHasher returns the hasher named by algorithm. bcryptCost is ignored for
// argon2id; zero means bcrypt.DefaultCost.
func NewHasher(algorithm string, bcryptCost int) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", HashBcrypt:
		if bcryptCost == 0 {
			bcryptCost = bcrypt.DefaultCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, bcryptCost)
		}
		return BcryptHasher{Cost: bcryptCost}, nil
	case HashArgon2id:
		return DefaultArgon2id(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", ErrInvalidInput, algorithm)
	}
}

// VerifyPassword checks plaintext against an encoding produced by any
// supported hasher.
func VerifyPassword(encoded, plaintext string) bool {
	switch {
	case encoded == "":
		return false
	case strings.HasPrefix(encoded, argon2idPrefix):
		return verifyArgon2id(encoded, plaintext)
	default:
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
	}
}

// BcryptHasher hashes with bcrypt.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h BcryptHasher) Verify(plaintext, encoded string) bool {
	return VerifyPassword(encoded, plaintext)
}

// Argon2idHasher hashes with argon2id and a random salt per call.
type Argon2idHasher struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultArgon2id returns interactive-login parameters.
func DefaultArgon2id() Argon2idHasher {
	return Argon2idHasher{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	}
}

func (h Argon2idHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.Iterations, h.Memory, h.Parallelism, h.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h Argon2idHasher) Verify(plaintext, encoded string) bool {
	return VerifyPassword(encoded, plaintext)
}

func verifyArgon2id(encoded, plaintext string) bool {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		memory, iterations uint32
		parallelism        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
