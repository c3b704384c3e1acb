package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// FHE relayer API.
type HMACAuth struct {
	Key    string // API key id
	Secret string // shared secret
}

// RelayerHeaders returns the HTTP headers for a relayer API request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-Relayer-Key
//   - X-Relayer-Timestamp
//   - X-Relayer-Signature
func (h *HMACAuth) RelayerHeaders(method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	message := ts + method + path + body
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-Relayer-Key":       h.Key,
		"X-Relayer-Timestamp": ts,
		"X-Relayer-Signature": sig,
	}
}

// Enabled reports whether credentials were configured. When false the relayer
// client sends unauthenticated requests.
func (h *HMACAuth) Enabled() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}
