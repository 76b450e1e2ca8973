// Package signature implements the federation request signing scheme.
//
// A partner signs every request with the shared secret of its signing key.
// The string-to-sign is
//
//	"{METHOD} {PATH_AND_QUERY} {TIMESTAMP}"
//
// where METHOD is the HTTP method exactly as sent, PATH_AND_QUERY is the
// request target including the raw query string, and TIMESTAMP is the
// ISO-8601 value of the X-Provider-Timestamp header. The signature is the
// lowercase hex HMAC-SHA256 of that string, prefixed with "sha256:".
//
// # Headers
//
//	X-Provider-KeyId:     partner-a
//	X-Provider-Timestamp: 2025-01-02T15:04:05.000Z
//	X-Provider-Signature: sha256:3f1c...
//	X-Provider-Org:       org_123
//
// Outbound webhooks use the same HMAC and prefix over the raw request body
// (see SignPayload).
//
// # Clock skew
//
// IsTimestampValid accepts a timestamp when its distance from now, in either
// direction, is at most the tolerance (DefaultTolerance is five minutes).
package signature
