// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. The iteration count is not encoded in the stored hash,
// so raising it requires rehashing existing records.
const (
	DefaultPBKDF2Iterations = 260_000
	pbkdf2SaltLen           = 16 // salt length in bytes
	pbkdf2KeyLen            = 32 // derived key length in bytes
)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted hash of the password.
	Hash(password string) string

	// Verify reports whether password matches the stored hash.
	// Malformed hashes report false.
	Verify(password, storedHash string) bool
}

// PBKDF2Hasher implements PasswordHasher with PBKDF2-HMAC-SHA256.
// Stored hashes have the form hex(salt) ":" hex(key).
type PBKDF2Hasher struct {
	iterations int
}

// NewPBKDF2Hasher creates a hasher using DefaultPBKDF2Iterations.
func NewPBKDF2Hasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{iterations: DefaultPBKDF2Iterations}
}

// NewPBKDF2HasherWithIterations creates a hasher with a custom iteration count.
// Counts below DefaultPBKDF2Iterations are raised to it.
func NewPBKDF2HasherWithIterations(iterations int) *PBKDF2Hasher {
	if iterations < DefaultPBKDF2Iterations {
		iterations = DefaultPBKDF2Iterations
	}
	return &PBKDF2Hasher{iterations: iterations}
}

// Iterations returns the configured iteration count.
func (h *PBKDF2Hasher) Iterations() int {
	return h.iterations
}

// Hash produces a PBKDF2 hash of the password with a fresh random salt.
// crypto/rand.Read does not fail on supported platforms; an exhausted entropy
// source aborts the process.
func (h *PBKDF2Hasher) Hash(password string) string {
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("auth: reading random salt: " + err.Error())
	}
	key := h.derive(password, salt)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key)
}

// Verify checks if the password matches the stored hash in constant time.
func (h *PBKDF2Hasher) Verify(password, storedHash string) bool {
	salt, expected, ok := parseStoredHash(storedHash)
	if !ok {
		return false
	}
	computed := h.derive(password, salt)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (h *PBKDF2Hasher) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations, pbkdf2KeyLen, sha256.New)
}

// parseStoredHash splits "salt_hex:key_hex" and checks both lengths.
func parseStoredHash(storedHash string) (salt, key []byte, ok bool) {
	if strings.Count(storedHash, ":") != 1 {
		return nil, nil, false
	}
	saltHex, keyHex, _ := strings.Cut(storedHash, ":")

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != pbkdf2SaltLen {
		return nil, nil, false
	}
	key, err = hex.DecodeString(keyHex)
	if err != nil || len(key) != pbkdf2KeyLen {
		return nil, nil, false
	}
	return salt, key, true
}
