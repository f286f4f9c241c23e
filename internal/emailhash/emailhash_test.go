package emailhash

import "testing"

func TestHashDeterministic(t *testing.T) {
	h, err := New("test-secret")
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	a, err := h.Hash("user@example.com")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := h.Hash("user@example.com")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Errorf("same input hashed differently: %q vs %q", a, b)
	}
	// 32-byte digest, hex encoded
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}

func TestHashNormalizesCaseAndWhitespace(t *testing.T) {
	h, err := New("test-secret")
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	a, _ := h.Hash("User@Example.com ")
	b, _ := h.Hash("user@example.com")
	if a != b {
		t.Error("expected case/whitespace variants to hash identically")
	}

	c, _ := h.Hash("other@example.com")
	if a == c {
		t.Error("expected different emails to hash differently")
	}
}

func TestHashKeyedBySecret(t *testing.T) {
	h1, _ := New("secret-one")
	h2, _ := New("secret-two")

	a, _ := h1.Hash("user@example.com")
	b, _ := h2.Hash("user@example.com")
	if a == b {
		t.Error("expected different secrets to produce different hashes")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestNewAcceptsLongSecret(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	h, err := New(string(long))
	if err != nil {
		t.Fatalf("new hasher with long secret: %v", err)
	}
	if _, err := h.Hash("user@example.com"); err != nil {
		t.Fatalf("hash: %v", err)
	}
}
