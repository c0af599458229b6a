package signing

import "testing"

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	token := s.Sign("doc-123", 1700000000)
	if len(token) == 0 {
		t.Fatalf("expected token")
	}
	if !s.Validate("doc-123", "1700000000", token) {
		t.Fatalf("expected token to validate")
	}
	if s.Validate("doc-999", "1700000000", token) {
		t.Fatalf("expected validation to fail for wrong document id")
	}
	if s.Validate("doc-123", "42", token) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("doc-123", "not-a-number", token) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
}
