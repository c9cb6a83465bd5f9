// Package signature implements the HMAC-SHA1 request signing used by the
// token-refresh endpoint: base64(HMAC-SHA1(secret, path + "\n" + timestamp)).
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"time"
)

// DateFormat is the RFC-1123-like layout the vendor expects for the
// x-lge-oauth-date header, always rendered in UTC.
const DateFormat = "Mon, 02 Jan 2006 15:04:05 +0000"

// Timestamp renders t in UTC using DateFormat.
func Timestamp(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// Sign returns the base64-encoded HMAC-SHA1 digest of message, keyed by
// secret. Both are treated as UTF-8 text, matching the vendor's Python
// reference implementation (secret.encode('utf8'), message.encode('utf8')).
func Sign(message, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignPath builds the message the vendor expects for a token-refresh
// request — exactly "path\ntimestamp" — and signs it.
func SignPath(path, timestamp, secret string) string {
	return Sign(path+"\n"+timestamp, secret)
}
