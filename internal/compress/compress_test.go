package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"customerType":"B2B","id":"c-1"}`), 64)
	for _, c := range []Codec{None, Snappy, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			framed, err := Encode(c, payload)
			require.NoError(t, err)
			assert.Equal(t, byte(c), framed[0])
			if c != None {
				assert.Less(t, len(framed), len(payload))
			}
			got, err := Decode(framed)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestParse(t *testing.T) {
	c, err := Parse("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)
	c, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, c)
	_, err = Parse("lz4")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
	_, err = Decode([]byte{9, 1, 2})
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
