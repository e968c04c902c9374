package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Verifier checks that an inbound webhook genuinely originated from the
// payment provider. Verification operates on the exact raw body bytes,
// before any JSON parsing, to avoid canonicalization mismatches.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify fails closed: a missing header, a body digest mismatch or a
// signature mismatch all return false and the caller must reject the
// request without touching any state.
func (v *Verifier) Verify(rawBody []byte, signature, timestamp, contentDigest string) bool {
	if signature == "" || timestamp == "" || contentDigest == "" {
		return false
	}

	bodyDigest := sha256.Sum256(rawBody)
	computedDigest := base64.StdEncoding.EncodeToString(bodyDigest[:])
	if !hmac.Equal([]byte(computedDigest), []byte(contentDigest)) {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp + "\n" + contentDigest))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
