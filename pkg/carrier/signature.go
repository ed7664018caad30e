package carrier

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
)

// SignatureHeader carries the carrier's request signature on the stream
// upgrade request.
const SignatureHeader = "X-Carrier-Signature"

// Signature computes the signature the carrier attaches to a request:
// the base64-encoded HMAC-SHA1 of the request URL, keyed by the account
// auth token.
func Signature(token, url string) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(url))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether sig is the correct signature for url
// under token. The comparison is constant-time.
func ValidSignature(token, url, sig string) bool {
	want := Signature(token, url)
	return hmac.Equal([]byte(want), []byte(sig))
}
