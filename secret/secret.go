// Package secret veils configuration secrets so they can be stored in the
// configuration file without being readable at a glance.
//
// A veiled value has the form <base64(nonce|ciphertext)>. The key is derived
// with scrypt from an operator supplied salt.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	prefix = "<"
	suffix = ">"
)

var kdfSalt = []byte("gf2influx/secret/v1")

// ErrEmptySalt is returned when veiling or unveiling without a salt.
var ErrEmptySalt = errors.New("secret salt must not be empty")

// IsVeiled reports whether s is wrapped like a veiled value.
func IsVeiled(s string) bool {
	return len(s) > len(prefix)+len(suffix) &&
		strings.HasPrefix(s, prefix) &&
		strings.HasSuffix(s, suffix)
}

// Veil encrypts plain with a key derived from salt.
func Veil(plain, salt string) (string, error) {
	aead, err := newAEAD(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed) + suffix, nil
}

// Unveil reverses Veil. Values that are not veiled are returned unchanged.
func Unveil(s, salt string) (string, error) {
	if !IsVeiled(s) {
		return s, nil
	}
	aead, err := newAEAD(salt)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(s[len(prefix) : len(s)-len(suffix)])
	if err != nil {
		return "", errors.Wrap(err, "invalid veiled value")
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.New("invalid veiled value: too short")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to unveil value, wrong salt?")
	}
	return string(plain), nil
}

func newAEAD(salt string) (cipher.AEAD, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	key, err := scrypt.Key([]byte(salt), kdfSalt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	return aead, nil
}
