package signature

import (
	"net/http"
	"time"
)

// Federation request headers
const (
	HeaderKeyID          = "X-Provider-KeyId"
	HeaderTimestamp      = "X-Provider-Timestamp"
	HeaderSignature      = "X-Provider-Signature"
	HeaderOrg            = "X-Provider-Org"
	HeaderEventType      = "X-Provider-Event-Type"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Credentials identify a partner when signing outbound federation requests
type Credentials struct {
	KeyID  string
	Secret string
	OrgID  string
}

// RequestTarget returns the path and raw query of r as it appears on the wire
func RequestTarget(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// SignRequest sets the four federation headers on r, signed at now
func SignRequest(r *http.Request, creds Credentials, now time.Time) {
	ts := FormatTimestamp(now)
	r.Header.Set(HeaderKeyID, creds.KeyID)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderOrg, creds.OrgID)
	r.Header.Set(HeaderSignature, Sign(r.Method, RequestTarget(r), ts, creds.Secret))
}
