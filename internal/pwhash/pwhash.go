// Package pwhash provides scrypt-based hashing and verification of HTTP
// Basic Auth passwords, used by the WebDAV listener and the gate web UI to
// check a client-supplied password against a configured principal's stored
// hash.
package pwhash

import (
	sscrypt "github.com/elithrar/simple-scrypt"

	"github.com/tamwuff/scan2blob/internal/errors"
)

// Hash derives an MCF-encoded scrypt hash of password, suitable for storage
// in a principal's configuration entry. Used by scan2blob-mkpass.
func Hash(password string) (string, error) {
	hash, err := sscrypt.GenerateFromPassword([]byte(password), sscrypt.DefaultParams)
	if err != nil {
		return "", errors.Wrap(err, "GenerateFromPassword")
	}
	return string(hash), nil
}

// Verify reports whether password matches the MCF-encoded hash produced by
// Hash. A mismatch is not an error: it simply reports false.
func Verify(hash, password string) (bool, error) {
	err := sscrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if err == sscrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	return false, errors.Wrap(err, "CompareHashAndPassword")
}
