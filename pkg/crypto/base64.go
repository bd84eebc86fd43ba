package crypto

import (
	"encoding/base64"
	"strings"
)

// Base64URLEncode encodes with the RFC 4648 §5 alphabet and no padding.
func Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Base64URLDecode accepts base64url with or without trailing padding.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
