package partitioner

import (
	"hash/fnv"
)

// HashFnv is the 64 bit FNV-1a hash of data.
func HashFnv(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}
