package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Prefix is prepended to every hex-encoded signature
const Prefix = "sha256:"

// CanonicalString builds the string-to-sign for a request
func CanonicalString(method, pathWithQuery, timestamp string) string {
	return method + " " + pathWithQuery + " " + timestamp
}

// Sign returns the "sha256:<hex>" signature for a request
func Sign(method, pathWithQuery, timestamp, secret string) string {
	return SignPayload([]byte(CanonicalString(method, pathWithQuery, timestamp)), secret)
}

// Verify recomputes the request signature and compares it to candidate in
// constant time
func Verify(method, pathWithQuery, timestamp, candidate, secret string) bool {
	return equal(candidate, Sign(method, pathWithQuery, timestamp, secret))
}

// SignPayload returns the "sha256:<hex>" HMAC of an arbitrary payload
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a payload signature produced by SignPayload
func VerifyPayload(payload []byte, candidate, secret string) bool {
	return equal(candidate, SignPayload(payload, secret))
}

func equal(candidate, expected string) bool {
	if len(candidate) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
