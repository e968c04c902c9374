package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"settlement-service/internal/webhook"
)

const testSecret = "test-webhook-secret"

func sign(body []byte, timestamp string) (signature, contentDigest string) {
	digest := sha256.Sum256(body)
	contentDigest = base64.StdEncoding.EncodeToString(digest[:])

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(timestamp + "\n" + contentDigest))
	signature = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return signature, contentDigest
}

func TestVerify_ValidRequest(t *testing.T) {
	verifier := webhook.NewVerifier(testSecret)
	body := []byte(`{"reference":"order-123","state":"AUTHORIZED"}`)
	timestamp := "2025-06-01T12:00:00Z"

	signature, contentDigest := sign(body, timestamp)

	assert.True(t, verifier.Verify(body, signature, timestamp, contentDigest))
}

func TestVerify_TamperedBody(t *testing.T) {
	verifier := webhook.NewVerifier(testSecret)
	body := []byte(`{"reference":"order-123","state":"AUTHORIZED"}`)
	timestamp := "2025-06-01T12:00:00Z"

	signature, contentDigest := sign(body, timestamp)

	tampered := []byte(`{"reference":"order-999","state":"AUTHORIZED"}`)
	assert.False(t, verifier.Verify(tampered, signature, timestamp, contentDigest))
}

func TestVerify_MissingHeaders(t *testing.T) {
	verifier := webhook.NewVerifier(testSecret)
	body := []byte(`{"reference":"order-123"}`)
	timestamp := "2025-06-01T12:00:00Z"

	signature, contentDigest := sign(body, timestamp)

	assert.False(t, verifier.Verify(body, "", timestamp, contentDigest))
	assert.False(t, verifier.Verify(body, signature, "", contentDigest))
	assert.False(t, verifier.Verify(body, signature, timestamp, ""))
}

func TestVerify_WrongSecret(t *testing.T) {
	verifier := webhook.NewVerifier("a-different-secret")
	body := []byte(`{"reference":"order-123"}`)
	timestamp := "2025-06-01T12:00:00Z"

	signature, contentDigest := sign(body, timestamp)

	assert.False(t, verifier.Verify(body, signature, timestamp, contentDigest))
}

func TestVerify_TimestampMismatch(t *testing.T) {
	verifier := webhook.NewVerifier(testSecret)
	body := []byte(`{"reference":"order-123"}`)

	signature, contentDigest := sign(body, "2025-06-01T12:00:00Z")

	assert.False(t, verifier.Verify(body, signature, "2025-06-01T12:00:01Z", contentDigest))
}
