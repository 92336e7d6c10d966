package instagram

import (
	"errors"
	"strings"
)

// Instagram encodes a post's numeric media PK as a shortcode using this
// custom base64 alphabet.
const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// ErrInvalidShortcode is returned when a shortcode contains characters
// outside the alphabet. Not worth retrying.
var ErrInvalidShortcode = errors.New("invalid shortcode")

// ShortcodeToPK converts a shortcode to its numeric media PK by base-64
// accumulation over the custom alphabet.
func ShortcodeToPK(shortcode string) (uint64, error) {
	if shortcode == "" {
		return 0, ErrInvalidShortcode
	}
	var pk uint64
	for _, c := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, c)
		if idx < 0 {
			return 0, ErrInvalidShortcode
		}
		pk = pk*64 + uint64(idx)
	}
	return pk, nil
}

// PKToShortcode is the inverse of ShortcodeToPK.
func PKToShortcode(pk uint64) string {
	if pk == 0 {
		return string(shortcodeAlphabet[0])
	}
	var b [11]byte // 64^11 > 2^64
	i := len(b)
	for pk > 0 {
		i--
		b[i] = shortcodeAlphabet[pk%64]
		pk /= 64
	}
	return string(b[i:])
}
