// Package compress frames payloads with the codec that produced them, so
// readers decode without knowing how the writer was configured.
package compress

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

type Codec byte

const (
	None Codec = iota
	Snappy
	Zstd
)

var ErrUnknownCodec = errors.New("unknown compression codec")

func Parse(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("%w: %s", ErrUnknownCodec, s)
}

func (c Codec) String() string {
	switch c {
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	}
	return "none"
}

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

// Encode compresses data and prefixes it with one codec byte.
func Encode(c Codec, data []byte) ([]byte, error) {
	out := []byte{byte(c)}
	switch c {
	case None:
		return append(out, data...), nil
	case Snappy:
		return append(out, snappy.Encode(nil, data)...), nil
	case Zstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, out), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
}

// Decode reverses Encode.
func Decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, errors.New("compress: empty frame")
	}
	c, data := Codec(framed[0]), framed[1:]
	switch c {
	case None:
		return append([]byte(nil), data...), nil
	case Snappy:
		return snappy.Decode(nil, data)
	case Zstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
}
