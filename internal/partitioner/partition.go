// Package partitioner derives partition keys for append targets and maps
// keys onto a fixed number of partitions.
package partitioner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tarungka/pipes/internal/fieldpath"
	"github.com/tarungka/pipes/internal/models"
)

var (
	ErrNoKeyRule    = errors.New("partition key rule is empty")
	ErrKeyNotFound  = errors.New("partition key field not found")
	ErrKeyNotScalar = errors.New("partition key field is not a scalar")
)

// KeyRule is either a constant key or a reference into the record view.
// A rule starting with "$." is a field reference, anything else is taken
// literally.
type KeyRule struct {
	constant string
	path     fieldpath.Path
	isPath   bool
}

func ParseKeyRule(s string) (KeyRule, error) {
	if s == "" {
		return KeyRule{}, ErrNoKeyRule
	}
	if !strings.HasPrefix(s, "$.") {
		return KeyRule{constant: s}, nil
	}
	p, err := fieldpath.Parse(s)
	if err != nil {
		return KeyRule{}, err
	}
	return KeyRule{path: p, isPath: true}, nil
}

// Constant returns a rule that always yields key.
func Constant(key string) KeyRule { return KeyRule{constant: key} }

func (k KeyRule) String() string {
	if k.isPath {
		return k.path.String()
	}
	return k.constant
}

// Key derives the partition key of r.
func (k KeyRule) Key(r models.Record) (string, error) {
	if !k.isPath {
		return k.constant, nil
	}
	v, ok := k.path.Lookup(r.View())
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrKeyNotFound, k.path, r.Identity())
	}
	s, ok := fieldpath.Stringify(v)
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrKeyNotScalar, k.path, r.Identity())
	}
	return s, nil
}

// Partitioner maps keys onto [0, partitions).
type Partitioner struct {
	partitions int
	hashFn     func([]byte) uint64
}

type Option func(*Partitioner)

func WithHashFn(fn func([]byte) uint64) Option {
	return func(p *Partitioner) {
		p.hashFn = fn
	}
}

func New(partitions int, opts ...Option) *Partitioner {
	if partitions < 1 {
		partitions = 1
	}
	p := &Partitioner{
		partitions: partitions,
		hashFn:     HashFnv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Partitioner) Partitions() int { return p.partitions }

func (p *Partitioner) Partition(key string) int {
	return int(p.hashFn([]byte(key)) % uint64(p.partitions))
}
