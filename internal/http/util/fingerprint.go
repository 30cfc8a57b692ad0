package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SessionCookie is the opaque session cookie set by the page server.
// When present it is used verbatim as the session fingerprint.
const SessionCookie = "tp_session"

// Fingerprinter derives an opaque session fingerprint for analytics
// records. It is not an identity: the same visitor behind a changing IP
// gets a new fingerprint, which is acceptable for advisory dedup.
type Fingerprinter struct {
	secret []byte
}

// NewFingerprinter returns a fingerprinter keyed with secret. An empty
// secret still works; fingerprints are then unkeyed hashes.
func NewFingerprinter(secret []byte) *Fingerprinter {
	return &Fingerprinter{secret: secret}
}

// Derive returns the cookie value when set, otherwise a compact HMAC of
// IP and User-Agent.
func (f *Fingerprinter) Derive(cookie, ip, userAgent string) string {
	if cookie != "" {
		return cookie
	}
	if ip == "" {
		return ""
	}

	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(ip))
	mac.Write([]byte("|"))
	mac.Write([]byte(userAgent))
	sum := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
