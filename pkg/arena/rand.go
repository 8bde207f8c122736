package arena

import (
	"math/rand/v2"
	"sync"
)

// source feeds fallback jitter and synthetic delays. Backfill draws from it on many
// goroutines at once, so every draw takes the lock.
var source = struct {
	sync.Mutex
	r *rand.Rand // nil uses the runtime's global generator
}{}

// SeedRng pins the source to a deterministic sequence.
func SeedRng(seed uint64) {
	source.Lock()
	source.r = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	source.Unlock()
}

// ResetRng goes back to the unseeded global generator.
func ResetRng() {
	source.Lock()
	source.r = nil
	source.Unlock()
}

func draw[T any](seeded func(*rand.Rand) T, global func() T) T {
	source.Lock()
	defer source.Unlock()
	if source.r != nil {
		return seeded(source.r)
	}
	return global()
}

func randFloat64() float64 {
	return draw((*rand.Rand).Float64, rand.Float64)
}

func randInt64N(n int64) int64 {
	return draw(func(r *rand.Rand) int64 { return r.Int64N(n) }, func() int64 { return rand.Int64N(n) })
}
