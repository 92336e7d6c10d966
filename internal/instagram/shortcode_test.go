package instagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortcodeToPK(t *testing.T) {
	cases := []struct {
		shortcode string
		pk        uint64
	}{
		{"A", 0},
		{"B", 1},
		{"_", 63},
		{"BA", 64},
		{"CW", 150},
		{"Qw", 1072},
	}
	for _, tc := range cases {
		pk, err := ShortcodeToPK(tc.shortcode)
		require.NoError(t, err, tc.shortcode)
		assert.Equal(t, tc.pk, pk, tc.shortcode)
	}
}

func TestShortcodeRoundTrip(t *testing.T) {
	for _, sc := range []string{"B", "DUGZG3CjcN-", "CxYz12_-Ab"} {
		pk, err := ShortcodeToPK(sc)
		require.NoError(t, err)
		assert.Equal(t, sc, PKToShortcode(pk), sc)
	}
}

func TestShortcodeInvalid(t *testing.T) {
	for _, sc := range []string{"", "abc!", "has space", "emoji🙂"} {
		_, err := ShortcodeToPK(sc)
		assert.ErrorIs(t, err, ErrInvalidShortcode, sc)
	}
}

func TestPKToShortcodeZero(t *testing.T) {
	assert.Equal(t, "A", PKToShortcode(0))
}
