package config

import "hash/fnv"

// hashBytes returns a stable fingerprint of raw config content.
// 0 is reserved for "no content".
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
