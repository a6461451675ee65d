package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-taskhooks/core"
)

const (
	HeaderHMAC       = "X-Todoist-Hmac-SHA256"
	HeaderDeliveryID = "X-Todoist-Delivery-ID"
)

// TodoistHMACVerifier validates the HMAC-SHA256 signature Todoist computes
// over the raw request body with the app's client secret. Todoist documents
// base64 digests; a hex rendering is accepted as a fallback since both have
// been observed in the wild. Both comparisons are constant time.
type TodoistHMACVerifier struct {
	Secret string
}

func (v TodoistHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.InvalidSignature("webhooks: signature secret is required", nil)
	}
	header := strings.TrimSpace(headerValue(req.Headers, HeaderHMAC))
	if header == "" {
		return core.InvalidSignature("webhooks: "+HeaderHMAC+" header is required", nil)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	digest := mac.Sum(nil)

	expectedB64 := base64.StdEncoding.EncodeToString(digest)
	expectedHex := hex.EncodeToString(digest)

	if subtle.ConstantTimeCompare([]byte(header), []byte(expectedB64)) == 1 {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(expectedHex)) == 1 {
		return nil
	}
	return core.InvalidSignature("webhooks: signature verification failed", nil)
}

// HeaderTokenVerifier guards operator surfaces with a shared bearer token.
type HeaderTokenVerifier struct {
	Header string
	Prefix string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return core.Unauthorized("webhooks: verification token is not configured", nil)
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return core.Unauthorized("webhooks: "+strings.TrimSpace(v.Header)+" header is required", nil)
	}
	if prefix := strings.TrimSpace(v.Prefix); prefix != "" {
		// The scheme and the credential are separate tokens; "Bearerabc" is
		// not a bearer credential.
		rest, found := strings.CutPrefix(actual, prefix)
		if !found || !strings.HasPrefix(rest, " ") {
			return core.Unauthorized("webhooks: verification token mismatch", nil)
		}
		actual = strings.TrimSpace(rest)
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return core.Unauthorized("webhooks: verification token mismatch", nil)
	}
	return nil
}

// ExtractDeliveryID reads the sender-assigned delivery identifier. Missing
// identifiers are a hard error: without one, dedupe is impossible.
func ExtractDeliveryID(req core.InboundRequest) (string, error) {
	deliveryID := strings.TrimSpace(headerValue(req.Headers, HeaderDeliveryID))
	if deliveryID == "" {
		return "", core.BadInput("webhooks: "+HeaderDeliveryID+" header is required for dedupe", nil)
	}
	return deliveryID, nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var (
	_ core.Verifier = TodoistHMACVerifier{}
	_ core.Verifier = HeaderTokenVerifier{}
)
