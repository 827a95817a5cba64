package orderly

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// signer produces orderly-signature headers. Orderly authenticates requests
// with an ed25519 signature over "timestamp + METHOD + path + body".
type signer struct {
	key ed25519.PrivateKey
}

// newSigner decodes a base58-encoded ed25519 secret key. Keys exported from
// the Orderly dashboard carry an "ed25519:" prefix which is stripped.
func newSigner(secret string) (*signer, error) {
	secret = strings.TrimPrefix(secret, "ed25519:")

	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("orderly: decode secret key: %w", err)
	}
	if len(raw) < ed25519.SeedSize {
		return nil, fmt.Errorf("orderly: secret key too short: %d bytes", len(raw))
	}

	// Some exports append the public key after the 32-byte seed.
	seed := raw[:ed25519.SeedSize]
	return &signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign returns the url-safe base64 signature for the given request fields.
// timestamp is epoch milliseconds as a string, method is upper-cased, path
// includes the query string, body is the raw JSON payload or empty.
func (s *signer) Sign(timestamp, method, path, body string) string {
	msg := timestamp + strings.ToUpper(method) + path + body
	sig := ed25519.Sign(s.key, []byte(msg))
	return base64.URLEncoding.EncodeToString(sig)
}
