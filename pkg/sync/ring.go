package sync

import (
	"encoding/binary"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// ring is a consistent hash ring mapping keys onto stripe indices
type ring struct {
	points *treemap.Map

	// first caches the stripe owning the smallest point, since
	// treemap.Map.Min() is O(log n).
	first int
}

// newRing returns a ring over the named entries, each placed
// replicationFactor times
func newRing(entries map[string]int, replicationFactor uint) *ring {
	points := treemap.NewWith(utils.Int64Comparator)
	for name, stripe := range entries {
		nameHash, _ := murmur3.Sum128([]byte(name))
		nameHashBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(nameHashBytes, nameHash)

		for i := 0; i < int(replicationFactor); i++ {
			hasher := murmur3.New128()
			hasher.Write(nameHashBytes)
			indexBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(indexBytes, uint32(i))
			hasher.Write(indexBytes)
			point, _ := hasher.Sum128()
			points.Put(int64(point), stripe)
		}
	}

	r := &ring{points: points}
	if _, first := points.Min(); first != nil {
		r.first = first.(int)
	}
	return r
}

// shard consistently hashes the key and returns its stripe index
func (r *ring) shard(key []byte) int {
	hash, _ := murmur3.Sum128(key)
	if _, stripe := r.points.Ceiling(int64(hash)); stripe != nil {
		return stripe.(int)
	}
	return r.first
}
