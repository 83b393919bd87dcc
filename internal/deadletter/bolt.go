package deadletter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/compress"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/utils"
	bolt "go.etcd.io/bbolt"
)

type BoltConfig struct {
	Path string `koanf:"path" json:"path"`
	// Compression is none, snappy or zstd. Entries written with another
	// codec stay readable.
	Compression string `koanf:"compression" json:"compression"`
}

// BoltStore appends entries to one bucket per pipe, keyed by the bucket
// sequence so iteration order is insertion order.
type BoltStore struct {
	open   atomic.Bool
	db     *bolt.DB
	codec  compress.Codec
	logger zerolog.Logger
}

type boltEntry struct {
	Entry     Entry `codec:"entry"`
	CreatedAt int64 `codec:"created_at"` // unix nanos
}

func OpenBolt(c BoltConfig) (*BoltStore, error) {
	if c.Path == "" {
		c.Path = "/tmp/pipes-deadletter.db"
	}
	codec, err := compress.Parse(c.Compression)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(c.Path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dead-letter db %s: %w", c.Path, err)
	}
	s := &BoltStore{
		db:     db,
		codec:  codec,
		logger: logger.GetLogger("deadletter").With().Str("store", "bbolt").Logger(),
	}
	s.open.Store(true)
	s.logger.Debug().Str("compression", codec.String()).Msgf("opened dead-letter database at %s", c.Path)
	return s, nil
}

func (s *BoltStore) Put(_ context.Context, e Entry) error {
	if !s.open.Load() {
		return ErrStoreClosed
	}
	buf, err := utils.EncodeMsgPack(boltEntry{Entry: e, CreatedAt: e.CreatedAt.UnixNano()})
	if err != nil {
		return err
	}
	val, err := compress.Encode(s.codec, buf.Bytes())
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(e.Pipe))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(utils.ConvertUint64ToBytes(seq), val)
	})
}

func (s *BoltStore) List(_ context.Context, pipe string, limit int) ([]Entry, error) {
	if !s.open.Load() {
		return nil, ErrStoreClosed
	}
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pipe))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			raw, err := compress.Decode(v)
			if err != nil {
				return fmt.Errorf("dead-letter entry %s/%d: %w", pipe, utils.ConvertBytesToUint64(k), err)
			}
			var be boltEntry
			if err := utils.DecodeMsgPack(raw, &be); err != nil {
				return err
			}
			be.Entry.CreatedAt = time.Unix(0, be.CreatedAt).UTC()
			out = append(out, be.Entry)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	return s.db.Close()
}
