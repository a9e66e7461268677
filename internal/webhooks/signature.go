package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderHMAC carries the storefront's base64 HMAC-SHA256 of the raw body.
const HeaderHMAC = "X-Shopify-Hmac-Sha256"

// VerifyHMAC checks a base64 HMAC-SHA256 signature over the raw, unparsed body.
// An empty secret or header never verifies.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// SignHMAC returns the base64 HMAC-SHA256 the storefront would send for body.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
