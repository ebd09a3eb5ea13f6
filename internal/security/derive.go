package security

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into a 32-byte key bound to purpose with HKDF-SHA256.
func DeriveKey(secret []byte, purpose string) ([32]byte, error) {
	var key [32]byte
	if len(secret) == 0 {
		return key, errors.New("security: empty secret")
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key[:]); err != nil {
		return key, err
	}
	return key, nil
}
