// Package auth provides the credential primitives and verification flows:
// two-class JWT issue/verify, API key generation and timing-uniform
// verification, permission scopes, and refresh token rotation with reuse
// detection. See internal/middleware/auth.go for the request-time glue that
// selects between the credential kinds.
//
// apikey.go handles the API key format. A raw key is the literal prefix
// "sk_live_" followed by 40 random base62 characters. Only the first 12
// characters (the lookup prefix) and an Argon2id digest of the full key are
// ever stored; the raw key is shown to its creator exactly once.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/agentplane/agentplane/internal/crypto"
)

const (
	// APIKeyPrefix marks raw API key material. It doubles as the credential
	// sniff: bearer values starting with it are treated as API keys, anything
	// else as a JWT.
	APIKeyPrefix = "sk_live_"

	// LookupPrefixLen is the length of the plaintext prefix stored alongside
	// each digest and used as the indexed lookup handle.
	LookupPrefixLen = 12

	// apiKeyPayloadLen is the number of random base62 characters after the
	// literal prefix.
	apiKeyPayloadLen = 40

	// minAPIKeyLen gates obviously malformed candidates before any rate
	// limiter, storage, or hashing work is spent on them.
	minAPIKeyLen = 20
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateAPIKey mints a raw API key together with the two values that get
// stored: its Argon2id digest and its lookup prefix.
func GenerateAPIKey(hasher *crypto.Hasher) (raw, digest, lookupPrefix string, err error) {
	payload, err := randomBase62(apiKeyPayloadLen)
	if err != nil {
		return "", "", "", err
	}

	raw = APIKeyPrefix + payload

	digest, err = hasher.Hash(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash api key: %w", err)
	}

	return raw, digest, LookupPrefix(raw), nil
}

// randomBase62 returns n uniformly random base62 characters. Bytes outside
// the largest multiple of 62 are rejected to avoid modulo bias.
func randomBase62(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random payload: %w", err)
		}
		if buf[0] >= 62*4 {
			continue
		}
		out = append(out, base62Alphabet[int(buf[0])%62])
	}
	return string(out), nil
}

// LooksLikeAPIKey reports whether candidate has the shape of a raw API key.
// It is a format gate only; possession of the shape proves nothing.
func LooksLikeAPIKey(candidate string) bool {
	return strings.HasPrefix(candidate, APIKeyPrefix) && len(candidate) >= minAPIKeyLen
}

// LookupPrefix returns the stored lookup handle for a raw key.
func LookupPrefix(rawKey string) string {
	if len(rawKey) < LookupPrefixLen {
		return rawKey
	}
	return rawKey[:LookupPrefixLen]
}

// ExtractBearerToken extracts the credential from an Authorization header.
// The same header carries both credential kinds: "Bearer <jwt>" or
// "Bearer sk_live_...".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}

	return token, nil
}
