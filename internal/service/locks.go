package service

import "sync"

const stripeCount = 64

// StripedMutex serialises work per key with a fixed set of mutexes. Distinct
// keys may share a stripe.
type StripedMutex struct {
	stripes [stripeCount]sync.Mutex
}

// Lock locks the stripe for key and returns its unlock function.
func (m *StripedMutex) Lock(key uint64) func() {
	mu := &m.stripes[key%stripeCount]
	mu.Lock()
	return mu.Unlock
}

// pairKey is the same for (a, b) and (b, a).
func pairKey(a, b uint) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 ^ uint64(b)
}
