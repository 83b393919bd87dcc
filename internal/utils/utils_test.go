package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Pipe   string `codec:"pipe"`
	Offset int64  `codec:"offset"`
	Body   []byte `codec:"body"`
}

func TestMsgPackRoundTrip(t *testing.T) {
	in := sample{Pipe: "clicks", Offset: 42, Body: []byte(`{"a":1}`)}
	buf, err := EncodeMsgPack(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, DecodeMsgPack(buf.Bytes(), &out))
	assert.Equal(t, in, out)
}

func TestUint64Bytes(t *testing.T) {
	b := ConvertUint64ToBytes(258)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, b)
	assert.Equal(t, uint64(258), ConvertBytesToUint64(b))
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, PathExists(dir))
	assert.False(t, PathExists(filepath.Join(dir, "missing")))
}
