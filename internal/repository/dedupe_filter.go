package repository

import (
	"hash/maphash"
	"math"
	"sync"
	"time"
)

// dedupeFilter is a two-generation Bloom filter over idempotency keys seen by this
// process. MaybeHas never returns false for a key added within the last window.
type dedupeFilter struct {
	mu        sync.Mutex
	n         uint64
	fpRate    float64
	window    time.Duration
	curr      *bloom
	prev      *bloom
	rotatesAt time.Time
	now       func() time.Time
}

func newDedupeFilter(n uint64, fpRate float64, window time.Duration) *dedupeFilter {
	if n == 0 {
		n = 1 << 20
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	if window <= 0 {
		window = time.Hour
	}
	f := &dedupeFilter{n: n, fpRate: fpRate, window: window, now: time.Now}
	f.curr = newBloom(n, fpRate)
	f.prev = newBloom(n, fpRate)
	f.rotatesAt = f.now().Add(window)
	return f
}

func (f *dedupeFilter) rotateLocked() {
	now := f.now()
	if now.Before(f.rotatesAt) {
		return
	}
	f.prev = f.curr
	f.curr = newBloom(f.n, f.fpRate)
	f.rotatesAt = now.Add(f.window)
}

func (f *dedupeFilter) MaybeHas(key string) bool {
	if key == "" {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateLocked()
	return f.curr.has(key) || f.prev.has(key)
}

func (f *dedupeFilter) Add(key string) {
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateLocked()
	f.curr.add(key)
}

type bloom struct {
	bits  []uint64
	m, k  uint64
	seedA maphash.Seed
	seedB maphash.Seed
}

// m = -n ln p / (ln 2)^2, k = m/n ln 2
func newBloom(n uint64, p float64) *bloom {
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint64(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k == 0 {
		k = 1
	}
	return &bloom{
		bits:  make([]uint64, (m+63)/64),
		m:     m,
		k:     k,
		seedA: maphash.MakeSeed(),
		seedB: maphash.MakeSeed(),
	}
}

func (b *bloom) probes(key string) (uint64, uint64) {
	h1 := maphash.String(b.seedA, key)
	h2 := maphash.String(b.seedB, key) | 1
	return h1, h2
}

func (b *bloom) add(key string) {
	h1, h2 := b.probes(key)
	for i := uint64(0); i < b.k; i++ {
		pos := (h1 + i*h2) % b.m
		b.bits[pos>>6] |= 1 << (pos & 63)
	}
}

func (b *bloom) has(key string) bool {
	h1, h2 := b.probes(key)
	for i := uint64(0); i < b.k; i++ {
		pos := (h1 + i*h2) % b.m
		if b.bits[pos>>6]&(1<<(pos&63)) == 0 {
			return false
		}
	}
	return true
}
