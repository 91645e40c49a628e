package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on every authenticated venue gateway request.
const (
	HeaderAPIKey     = "VR-API-KEY"
	HeaderTimestamp  = "VR-TIMESTAMP"
	HeaderPassphrase = "VR-PASSPHRASE"
	HeaderSignature  = "VR-SIGNATURE"
)

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, base64 or raw
	Passphrase string // optional
}

// Headers returns the auth headers for a request. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	out := map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign(h.secretBytes(), ts+method+path+body),
	}
	if h.Passphrase != "" {
		out[HeaderPassphrase] = h.Passphrase
	}
	return out
}

// Verify checks a signature produced by HeadersAt in constant time.
func (h *HMACAuth) Verify(method, path, body, ts, signature string) bool {
	want := Sign(h.secretBytes(), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// secretBytes decodes a base64 secret, falling back to the raw bytes so a
// misconfigured secret yields a rejected signature rather than a panic.
func (h *HMACAuth) secretBytes() []byte {
	if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil && len(b) > 0 {
		return b
	}
	return []byte(h.Secret)
}

// Sign computes base64(HMAC-SHA256(key, message)).
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
