// Package auth hashes and verifies the bearer tokens that gate
// administrative operations (UpsertPolicy, ListAudit). Tokens are
// operator-provisioned strings; this package never issues or stores raw
// tokens, only their hashes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("auth: unknown hash type")

// argon2idParams follows OWASP's minimum recommendation for Argon2id:
// 46 MiB memory, 1 iteration, 1 degree of parallelism.
var argon2idParams = &argon2id.Params{
	Memory:      46 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns the SHA-256 hex hash of a raw token.
// Deprecated: prefer HashTokenArgon2id for newly minted tokens; this form
// is kept so configs seeded before Argon2id adoption keep validating.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashTokenArgon2id returns an Argon2id hash of a raw token in PHC format
// ($argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>), suitable for storing in
// a config file's admin.tokens[].hash field.
func HashTokenArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash:
// "argon2id" for PHC format, "sha256" for prefixed or bare hex, "unknown"
// otherwise.
func DetectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHexString(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken checks raw against stored, supporting Argon2id PHC hashes,
// "sha256:"-prefixed hashes, and legacy bare SHA-256 hex. Returns
// (false, ErrUnknownHashType) for an unrecognized stored format.
func VerifyToken(raw, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(raw, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		computed := HashToken(raw)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on a malformed hash (e.g.
// t=0 or p=0), which would otherwise crash the admin request path.
func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}
