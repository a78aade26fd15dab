package table

import "hash/fnv"

// DefaultShards is the shard count used when a table is created with n <= 0.
const DefaultShards = 64

func shardCount(n int) int {
	if n <= 0 {
		return DefaultShards
	}
	return n
}

func shardIndex(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
