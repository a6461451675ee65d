package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/goliatone/go-taskhooks/core"
)

const verifierSecret = "webhook-secret"

func signBody(body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(verifierSecret))
	mac.Write(body)
	return mac.Sum(nil)
}

func requestWith(body []byte, signature string) core.InboundRequest {
	return core.InboundRequest{
		Headers: map[string]string{HeaderHMAC: signature},
		Body:    body,
	}
}

func TestTodoistHMACVerifierAcceptsBase64(t *testing.T) {
	body := []byte(`{"event_name":"item:completed"}`)
	verifier := TodoistHMACVerifier{Secret: verifierSecret}

	signature := base64.StdEncoding.EncodeToString(signBody(body))
	if err := verifier.Verify(context.Background(), requestWith(body, signature)); err != nil {
		t.Fatalf("base64 signature rejected: %v", err)
	}
}

func TestTodoistHMACVerifierAcceptsHex(t *testing.T) {
	body := []byte(`{"event_name":"item:completed"}`)
	verifier := TodoistHMACVerifier{Secret: verifierSecret}

	signature := hex.EncodeToString(signBody(body))
	if err := verifier.Verify(context.Background(), requestWith(body, signature)); err != nil {
		t.Fatalf("hex signature rejected: %v", err)
	}
}

func TestTodoistHMACVerifierRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"event_name":"item:completed"}`)
	verifier := TodoistHMACVerifier{Secret: verifierSecret}
	signature := base64.StdEncoding.EncodeToString(signBody(body))

	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01
	err := verifier.Verify(context.Background(), requestWith(tampered, signature))
	if !core.HasTextCode(err, core.ErrorInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestTodoistHMACVerifierRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event_name":"item:completed"}`)
	mac := hmac.New(sha256.New, []byte("some-other-secret"))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	verifier := TodoistHMACVerifier{Secret: verifierSecret}
	err := verifier.Verify(context.Background(), requestWith(body, signature))
	if !core.HasTextCode(err, core.ErrorInvalidSignature) {
		t.Fatalf("expected invalid signature for wrong secret, got %v", err)
	}
}

func TestTodoistHMACVerifierRejectsMissingHeader(t *testing.T) {
	verifier := TodoistHMACVerifier{Secret: verifierSecret}
	err := verifier.Verify(context.Background(), core.InboundRequest{Body: []byte(`{}`)})
	if !core.HasTextCode(err, core.ErrorInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestTodoistHMACVerifierRejectsWithoutSecret(t *testing.T) {
	body := []byte(`{}`)
	verifier := TodoistHMACVerifier{}
	err := verifier.Verify(context.Background(), requestWith(body, "anything"))
	if !core.HasTextCode(err, core.ErrorInvalidSignature) {
		t.Fatalf("expected fail-closed without secret, got %v", err)
	}
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	body := []byte(`{"event_name":"item:completed"}`)
	verifier := TodoistHMACVerifier{Secret: verifierSecret}
	signature := base64.StdEncoding.EncodeToString(signBody(body))

	req := core.InboundRequest{
		Headers: map[string]string{"x-todoist-hmac-sha256": signature},
		Body:    body,
	}
	if err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("lowercased header rejected: %v", err)
	}
}

func TestExtractDeliveryID(t *testing.T) {
	req := core.InboundRequest{Headers: map[string]string{HeaderDeliveryID: " d-42 "}}
	deliveryID, err := ExtractDeliveryID(req)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if deliveryID != "d-42" {
		t.Fatalf("expected trimmed id, got %q", deliveryID)
	}

	if _, err := ExtractDeliveryID(core.InboundRequest{}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for missing header, got %v", err)
	}
}

func TestHeaderTokenVerifier(t *testing.T) {
	verifier := HeaderTokenVerifier{Header: "Authorization", Prefix: "Bearer", Token: "admin-token"}

	ok := core.InboundRequest{Headers: map[string]string{"Authorization": "Bearer admin-token"}}
	if err := verifier.Verify(context.Background(), ok); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}

	wrong := core.InboundRequest{Headers: map[string]string{"Authorization": "Bearer nope"}}
	if err := verifier.Verify(context.Background(), wrong); !core.HasTextCode(err, core.ErrorUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	missingPrefix := core.InboundRequest{Headers: map[string]string{"Authorization": "admin-token"}}
	if err := verifier.Verify(context.Background(), missingPrefix); !core.HasTextCode(err, core.ErrorUnauthorized) {
		t.Fatalf("expected unauthorized without prefix, got %v", err)
	}

	gluedPrefix := core.InboundRequest{Headers: map[string]string{"Authorization": "Beareradmin-token"}}
	if err := verifier.Verify(context.Background(), gluedPrefix); !core.HasTextCode(err, core.ErrorUnauthorized) {
		t.Fatalf("expected unauthorized when scheme and token are glued, got %v", err)
	}

	unconfigured := HeaderTokenVerifier{Header: "Authorization"}
	if err := unconfigured.Verify(context.Background(), ok); !core.HasTextCode(err, core.ErrorUnauthorized) {
		t.Fatalf("expected fail-closed without token, got %v", err)
	}
}
