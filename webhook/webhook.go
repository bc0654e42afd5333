// Package webhook verifies push-notification signatures from the hosting
// provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/skiff-cd/skiff/domain"
)

// SignatureHeader is the header carrying the HMAC digest of the request body.
const SignatureHeader = "X-Hub-Signature-256"

// Sign computes the expected header value for a request body, in the form
// "sha256=<hex digest>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an incoming signature against the raw request body using the
// project's secret. The comparison is constant-time. Returns
// domain.ErrWebhookAuth for a missing, malformed or mismatching signature.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return domain.ErrWebhookAuth
	}

	digest, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return domain.ErrWebhookAuth
	}

	received, err := hex.DecodeString(digest)
	if err != nil {
		return domain.ErrWebhookAuth
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(received, mac.Sum(nil)) {
		return domain.ErrWebhookAuth
	}
	return nil
}
