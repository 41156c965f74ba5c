package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/url"
)

// Signer handles Kraken private REST authentication.
// It stores keys as []byte to allow memory wiping.
type Signer struct {
	apiKey    []byte
	secretKey []byte // decoded from base64 at construction
}

// NewSigner creates a signer from the API key and the base64-encoded secret.
func NewSigner(apiKey, secret string) (*Signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("api secret is not valid base64: %w", err)
	}
	return &Signer{
		apiKey:    []byte(apiKey),
		secretKey: decoded,
	}, nil
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	wipeSlice(s.apiKey)
	wipeSlice(s.secretKey)
}

func wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Sign computes the API-Sign value for a private endpoint:
// base64(HMAC-SHA512(secret, path || SHA256(nonce || encodedBody))).
// The nonce must also be present inside encodedBody.
func (s *Signer) Sign(path, nonce, encodedBody string) string {
	sha := sha256.Sum256([]byte(nonce + encodedBody))

	mac := hmac.New(sha512.New, s.secretKey)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers returns the auth headers for a signed request.
func (s *Signer) Headers(path, nonce string, form url.Values) map[string]string {
	encoded := form.Encode()
	return map[string]string{
		"API-Key":      string(s.apiKey),
		"API-Sign":     s.Sign(path, nonce, encoded),
		"Content-Type": "application/x-www-form-urlencoded",
	}
}
