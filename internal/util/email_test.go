package util

import (
	"errors"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "alice@example.com" {
		t.Fatalf("normalized = %q", got)
	}
	if _, err := NormalizeEmail(""); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	for _, bad := range []string{"not-an-email", "Bob <bob@example.com>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrEmailInvalid) {
			t.Fatalf("%q: expected ErrEmailInvalid, got %v", bad, err)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@example.com": "a***e@example.com",
		"ab@example.com":    "a***@example.com",
		"@example.com":      "***@example.com",
		"plain":             "plain",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNumericCode(t *testing.T) {
	code, err := NumericCode(6)
	if err != nil {
		t.Fatalf("numeric code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code length = %d", len(code))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in code %q", code)
		}
	}
}
