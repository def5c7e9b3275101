// hasher.go implements the credential hasher used for passwords, refresh-token
// digests, and API-key digests. Argon2id is chosen because it is memory-hard
// (GPU/ASIC brute force of a leaked digest table stays expensive) and because
// refresh-token digests are full JWTs, far longer than the 72-byte input limit
// of bcrypt. Digests are stored as PHC strings so the parameters travel with
// the digest and can be raised later without invalidating existing records.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrSecretEmpty is returned when an empty string is passed to Hash; an empty
// credential must never produce a storable digest.
var ErrSecretEmpty = errors.New("crypto: secret must not be empty")

// HashParams tunes the argon2id cost. Memory is in KiB.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultHashParams follows the RFC 9106 second recommended option
// (64 MiB, 3 passes, 1 lane), sized so a verify stays under ~100ms on
// commodity hardware while remaining memory-hard.
var DefaultHashParams = HashParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// dummySecret seeds the hasher's fixed dummy digest. The digest exists only to
// equalize timing on the "no candidate found" path; its verify result is
// always discarded by callers.
const dummySecret = "agentplane-dummy-credential-v1"

// Hasher hashes and verifies credentials with a per-call random salt.
// Equality checks go through Verify only; digests are salted, so comparing
// two digest strings directly is meaningless.
type Hasher struct {
	params HashParams
	dummy  string
}

// NewHasher builds a hasher with the given cost parameters and precomputes the
// fixed dummy digest at the same cost, so a dummy verify is indistinguishable
// in time from a real one.
func NewHasher(params HashParams) *Hasher {
	// Deterministic zero salt: the dummy digest must be stable across
	// processes and must not consume entropy at startup.
	salt := make([]byte, params.SaltLen)
	dk := argon2.IDKey([]byte(dummySecret), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)
	return &Hasher{
		params: params,
		dummy:  encodePHC(params, salt, dk),
	}
}

// Hash digests the secret with a fresh random salt and returns the PHC string
// $argon2id$v=19$m=<mem>,t=<time>,p=<par>$<salt-b64>$<key-b64>.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrSecretEmpty
	}
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: read salt: %w", err)
	}
	dk := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLen)
	return encodePHC(h.params, salt, dk), nil
}

// Verify reports whether secret matches the PHC digest. Any malformed digest
// verifies false; no distinction is exposed between "wrong secret" and
// "unparseable digest". The cost parameters embedded in the digest are used,
// not the hasher's own, so records hashed under older parameters keep
// verifying after a cost bump.
func (h *Hasher) Verify(secret, digest string) bool {
	params, salt, want, ok := decodePHC(digest)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// DummyDigest returns a fixed, well-formed digest that matches no stored
// credential. Callers on the zero-candidate path verify against it and
// discard the result so that "prefix unknown" costs the same as "prefix
// known, key wrong".
func (h *Hasher) DummyDigest() string {
	return h.dummy
}

func encodePHC(p HashParams, salt, dk []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	)
}

// decodePHC splits and validates a PHC string. Split on "$" rather than
// Sscanf: %s verbs consume the separator, which silently breaks the trailing
// salt and key fields.
func decodePHC(digest string) (HashParams, []byte, []byte, bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return HashParams{}, nil, nil, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return HashParams{}, nil, nil, false
	}
	var p HashParams
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil || n != 3 {
		return HashParams{}, nil, nil, false
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return HashParams{}, nil, nil, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return HashParams{}, nil, nil, false
	}
	dk, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(dk) == 0 {
		return HashParams{}, nil, nil, false
	}
	return p, salt, dk, true
}
