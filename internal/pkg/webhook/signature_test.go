package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_type":"job.updated","object_uuid":"uuid-1"}`)
	secret := "whsec-test"
	valid := Sign(payload, secret)

	if !VerifySignature(payload, valid, secret) {
		t.Fatal("expected valid signature to verify")
	}
	if !VerifySignature(payload, strings.ToUpper(valid), secret) {
		t.Fatal("expected uppercase hex signature to verify")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	payload := []byte(`{"event_type":"job.updated","object_uuid":"uuid-1"}`)
	secret := "whsec-test"
	valid := Sign(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
	}{
		{name: "tampered payload", payload: []byte(`{"event_type":"job.updated","object_uuid":"uuid-2"}`), signature: valid, secret: secret},
		{name: "wrong secret", payload: payload, signature: valid, secret: "other"},
		{name: "garbage signature", payload: payload, signature: "not-hex", secret: secret},
		{name: "truncated signature", payload: payload, signature: valid[:32], secret: secret},
		{name: "empty signature", payload: payload, signature: "", secret: secret},
		{name: "empty secret", payload: payload, signature: valid, secret: ""},
	}
	for _, tt := range tests {
		if VerifySignature(tt.payload, tt.signature, tt.secret) {
			t.Fatalf("%s: expected verification to fail", tt.name)
		}
	}
}
