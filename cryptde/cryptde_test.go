package cryptde

import "testing"

func TestPublicKeyEqual(t *testing.T) {
	a := PublicKey("same-key")
	b := PublicKey("same-key")
	c := PublicKey("other-key")
	if !a.Equal(b) {
		t.Fatal("Equal(a, b) = false, want true")
	}
	if a.Equal(c) {
		t.Fatal("Equal(a, c) = true, want false")
	}
	if a.Equal(PublicKey("longer-key")) {
		t.Fatal("Equal should reject differing lengths")
	}
}

func TestPublicKeyStringTruncates(t *testing.T) {
	short := PublicKey("abcd")
	if short.String() != "61626364" {
		t.Fatalf("String() = %q, want %q", short.String(), "61626364")
	}
	long := PublicKey("0123456789abcdef")
	if long.String() != "3031323334353637…" {
		t.Fatalf("String() = %q, want truncated hex with ellipsis", long.String())
	}
	if PublicKey(nil).String() != "<empty>" {
		t.Fatalf("String() of empty key = %q, want <empty>", PublicKey(nil).String())
	}
}

func TestPublicKeyKey(t *testing.T) {
	a := PublicKey("k")
	if a.Key() != "k" {
		t.Fatalf("Key() = %q, want %q", a.Key(), "k")
	}
}
