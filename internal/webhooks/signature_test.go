package webhooks

import "testing"

func TestVerifySignature(t *testing.T) {
	secret := "wh-secret"
	payload := []byte(`{"message":"hello"}`)
	sig := Sign(secret, payload)

	if !VerifySignature(secret, payload, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature(secret, []byte(`{"message":"tampered"}`), sig) {
		t.Error("signature must bind the exact body bytes")
	}
	if VerifySignature("other-secret", payload, sig) {
		t.Error("wrong secret accepted")
	}
	if VerifySignature(secret, payload, sig[:len(sig)-2]) {
		t.Error("truncated signature accepted")
	}
}

func TestVerifySignatureNeverOpenByOmission(t *testing.T) {
	payload := []byte(`{}`)
	if VerifySignature("", payload, Sign("", payload)) {
		t.Error("empty secret must always fail")
	}
	if VerifySignature("secret", payload, "") {
		t.Error("empty signature must always fail")
	}
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("s", []byte("body"))
	b := Sign("s", []byte("body"))
	if a != b {
		t.Errorf("Sign not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 length 64, got %d", len(a))
	}
}
