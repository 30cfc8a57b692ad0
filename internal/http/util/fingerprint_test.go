package util

import "testing"

func TestFingerprinter_CookieWins(t *testing.T) {
	f := NewFingerprinter([]byte("secret"))

	got := f.Derive("session-value", "203.0.113.7", "Mozilla/5.0")
	if got != "session-value" {
		t.Fatalf("expected cookie returned verbatim, got %q", got)
	}
}

func TestFingerprinter_DerivedIsStable(t *testing.T) {
	f := NewFingerprinter([]byte("secret"))

	a := f.Derive("", "203.0.113.7", "Mozilla/5.0")
	b := f.Derive("", "203.0.113.7", "Mozilla/5.0")
	if a == "" {
		t.Fatal("expected non-empty fingerprint")
	}
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q and %q", a, b)
	}
}

func TestFingerprinter_VariesByInputAndKey(t *testing.T) {
	f := NewFingerprinter([]byte("secret"))

	base := f.Derive("", "203.0.113.7", "Mozilla/5.0")
	if f.Derive("", "203.0.113.8", "Mozilla/5.0") == base {
		t.Fatal("expected different IP to change the fingerprint")
	}
	if f.Derive("", "203.0.113.7", "curl/8.0") == base {
		t.Fatal("expected different user agent to change the fingerprint")
	}

	other := NewFingerprinter([]byte("other-secret"))
	if other.Derive("", "203.0.113.7", "Mozilla/5.0") == base {
		t.Fatal("expected different key to change the fingerprint")
	}
}

func TestFingerprinter_NoIP_NoFingerprint(t *testing.T) {
	f := NewFingerprinter([]byte("secret"))

	if got := f.Derive("", "", "Mozilla/5.0"); got != "" {
		t.Fatalf("expected empty fingerprint without an IP, got %q", got)
	}
}
