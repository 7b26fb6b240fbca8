package chat

import (
	"hash/fnv"
	"sync"
)

const stripeCount = 64

// stripedMutex provides per-key mutual exclusion with a bounded number of
// underlying locks. Distinct keys may share a stripe; that only costs
// occasional extra serialization, never correctness.
type stripedMutex struct {
	stripes [stripeCount]sync.Mutex
}

func (s *stripedMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &s.stripes[h.Sum32()%stripeCount]
	m.Lock()
	return m
}
