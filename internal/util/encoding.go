package util

import (
	"encoding/base64"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier folds compatibility forms so that visually identical
// usernames produce identical bytes.
func NormalizeIdentifier(s string) string {
	return norm.NFKC.String(s)
}

func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
