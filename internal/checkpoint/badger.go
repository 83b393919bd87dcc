package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/utils"
)

const keyPrefix = "cp/"

type BadgerConfig struct {
	Dir      string `koanf:"dir" json:"dir"`
	InMemory bool   `koanf:"in_memory" json:"in_memory"`
}

// BadgerStore keeps checkpoints in a badger database. Values are msgpack
// encoded storedCheckpoint structs under "cp/<pipe>\x00<partition>".
type BadgerStore struct {
	open atomic.Bool

	dbPath string
	logger zerolog.Logger

	db *badger.DB
	mu sync.Mutex // serialises read-compare-write in Commit
}

type storedCheckpoint struct {
	Pipe      string `codec:"pipe"`
	Partition string `codec:"partition"`
	Offset    int64  `codec:"offset"`
	UpdatedAt int64  `codec:"updated_at"` // unix nanos
}

// OpenBadger opens a file-based database at c.Dir, or an in memory one. If
// the directory is empty it falls back to /tmp/pipes-checkpoints.
func OpenBadger(c BadgerConfig) (*BadgerStore, error) {
	newLogger := logger.GetLogger("checkpoint").With().Str("store", "badger").Logger()

	var opts badger.Options
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if c.Dir == "" {
			c.Dir = "/tmp/pipes-checkpoints"
		}
		opts = badger.DefaultOptions(c.Dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &BadgerStore{dbPath: c.Dir, logger: newLogger, db: db}
	s.open.Store(true)
	if c.InMemory {
		s.logger.Debug().Msg("opened a in-memory checkpoint database")
	} else {
		s.logger.Debug().Msgf("opened a file-based checkpoint database at %s", c.Dir)
	}
	return s, nil
}

func badgerKey(pipe, partition string) []byte {
	return []byte(keyPrefix + key(pipe, partition))
}

func decodeStored(val []byte) (Checkpoint, error) {
	var sc storedCheckpoint
	if err := utils.DecodeMsgPack(val, &sc); err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{
		Pipe:      sc.Pipe,
		Partition: sc.Partition,
		Offset:    sc.Offset,
		UpdatedAt: time.Unix(0, sc.UpdatedAt),
	}, nil
}

func (s *BadgerStore) Load(_ context.Context, pipe, partition string) (Checkpoint, bool, error) {
	if !s.open.Load() {
		return Checkpoint{}, false, ErrStoreOpen
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(pipe, partition))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		s.logger.Err(err).Str("pipe", pipe).Str("partition", partition).Msg("err loading checkpoint")
		return Checkpoint{}, false, err
	}
	cp, err := decodeStored(val)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *BadgerStore) Commit(_ context.Context, cp Checkpoint) error {
	if !s.open.Load() {
		return ErrStoreOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	k := badgerKey(cp.Pipe, cp.Partition)

	s.logger.Trace().Str("pipe", cp.Pipe).Str("partition", cp.Partition).Int64("offset", cp.Offset).Msg("committing checkpoint")
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, err := decodeStored(val)
			if err != nil {
				return err
			}
			if cp.Offset < stored.Offset {
				return regression(cp, stored.Offset)
			}
			if cp.Offset == stored.Offset {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		buf, err := utils.EncodeMsgPack(storedCheckpoint{
			Pipe:      cp.Pipe,
			Partition: cp.Partition,
			Offset:    cp.Offset,
			UpdatedAt: cp.UpdatedAt.UnixNano(),
		})
		if err != nil {
			return err
		}
		return txn.Set(k, buf.Bytes())
	})
	if err != nil && !errors.Is(err, ErrRegression) {
		s.logger.Err(err).Str("pipe", cp.Pipe).Str("partition", cp.Partition).Msg("err committing checkpoint")
	}
	return err
}

func (s *BadgerStore) List(_ context.Context, pipe string) ([]Checkpoint, error) {
	if !s.open.Load() {
		return nil, ErrStoreOpen
	}
	prefix := []byte(keyPrefix + pipe + "\x00")
	var out []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			cp, err := decodeStored(val)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (s *BadgerStore) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Debug().Msg("closing checkpoint database")
	return s.db.Close()
}
