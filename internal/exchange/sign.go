// Package exchange provides the two BrokerClient implementations: a live
// HMAC-authenticated REST client and an order-synthesizing simulator.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the hex-encoded HMAC-SHA256 of payload with the API secret.
// The exchange expects the signature over the exact query string sent.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
