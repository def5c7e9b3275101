// Package main is a development utility for generating an API key with its
// Argon2id digest and lookup prefix pre-computed. It prints the raw key, the
// digest, the prefix, and a ready-to-run SQL INSERT so developers can seed a
// usable key in a local database without running the full server flow. Do not
// use generated keys in production — create keys through POST /v1/keys so
// expiry and scopes are set properly.
package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/agentplane/agentplane/internal/auth"
	"github.com/agentplane/agentplane/internal/crypto"
)

func main() {
	hasher := crypto.NewHasher(crypto.DefaultHashParams)

	rawKey, digest, prefix, err := auth.GenerateAPIKey(hasher)
	if err != nil {
		log.Fatal(err)
	}

	scopes := auth.GetDefaultScopes()

	separator := strings.Repeat("=", 58)
	fmt.Println(separator)
	fmt.Println("API Key Generated")
	fmt.Println(separator)
	fmt.Printf("\nFull Key:      %s\n", rawKey)
	fmt.Printf("\nDigest:        %s\n", digest)
	fmt.Printf("\nLookup Prefix: %s\n", prefix)
	fmt.Printf("\nScopes:        %s\n", strings.Join(scopes, ", "))
	fmt.Println("\n" + separator)
	fmt.Println("Seed SQL:")
	fmt.Println(separator)
	fmt.Printf(`
INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, permissions)
VALUES (
    gen_random_uuid(),
    (SELECT id FROM users WHERE email = 'admin@dev.local'),
    'dev key',
    '%s',
    '%s',
    '["%s"]'
);
`, prefix, digest, strings.Join(scopes, `","`))
	fmt.Println("\n" + separator)
	fmt.Printf("Authorization Header: Bearer %s\n", rawKey)
	fmt.Println(separator)
}
