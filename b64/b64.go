// Package b64 normalizes base64 handling across CI hosts. GNU and BSD
// base64 disagree about line wrapping and padding tolerance; these helpers
// behave like `base64 -w0` and a forgiving `base64 -d` everywhere.
package b64

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode renders b in the standard alphabet without line wrapping.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode decodes s, stripping ASCII whitespace and tolerating missing
// padding.
func Decode(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if rest := len(clean) % 4; rest != 0 {
		clean += strings.Repeat("=", 4-rest)
	}
	out, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 input: %w", err)
	}
	return out, nil
}
