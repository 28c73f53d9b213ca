package pool

import (
	"errors"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"
)

// ErrStaleLease is returned when a lease is released twice or after its
// buffer was handed to someone else.
var ErrStaleLease = errors.New("pool: stale lease")

// Default size-class bounds.
const (
	DefaultMinShift = 8  // 256 B
	DefaultMaxShift = 24 // 16 MiB
	DefaultMaxFree  = 16
)

// slab is the pooled unit. It is never handed out directly.
type slab struct {
	data []byte
	gen  uint64
	out  bool
	tier int // -1 for oversize buffers that bypass the free lists
}

type tier struct {
	mu   sync.Mutex
	size int
	free []*slab
}

// Lease is the right to use one rented buffer until it is released.
// The zero Lease is empty and releasing it is a no-op.
type Lease struct {
	s   *slab
	gen uint64
	n   int
}

// Bytes returns the rented buffer truncated to the requested length, or nil
// if the lease is empty or stale.
func (l Lease) Bytes() []byte {
	if l.s == nil || l.s.gen != l.gen || !l.s.out {
		return nil
	}
	return l.s.data[:l.n]
}

// Len returns the requested length.
func (l Lease) Len() int { return l.n }

// Cap returns the capacity of the size class backing the lease.
func (l Lease) Cap() int {
	if l.s == nil {
		return 0
	}
	return cap(l.s.data)
}

// Empty reports whether l holds no buffer.
func (l Lease) Empty() bool { return l.s == nil }

// Registry is the process-wide arena.
type Registry struct {
	tiers    []*tier
	minShift int
	maxFree  int
	logger   *slog.Logger

	outstanding atomic.Int64
	rents       atomic.Uint64
	misses      atomic.Uint64
	closed      atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithSizeClasses bounds the pooled sizes to [1<<minShift, 1<<maxShift].
// Larger requests are served unpooled.
func WithSizeClasses(minShift, maxShift int) Option {
	return func(r *Registry) {
		if minShift < 0 || maxShift < minShift || maxShift > 40 {
			return
		}
		r.minShift = minShift
		r.tiers = newTiers(minShift, maxShift)
	}
}

// WithMaxFree caps how many idle buffers each size class retains.
func WithMaxFree(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxFree = n
		}
	}
}

// WithLogger sets the logger used for pool diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an arena. Call it once per process.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tiers:    newTiers(DefaultMinShift, DefaultMaxShift),
		minShift: DefaultMinShift,
		maxFree:  DefaultMaxFree,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newTiers(minShift, maxShift int) []*tier {
	tiers := make([]*tier, 0, maxShift-minShift+1)
	for s := minShift; s <= maxShift; s++ {
		tiers = append(tiers, &tier{size: 1 << s})
	}
	return tiers
}

// classFor returns the tier index serving n bytes, or -1 if n is oversize.
func classFor(n, minShift, count int) int {
	if n <= 1<<minShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	idx := shift - minShift
	if idx >= count {
		return -1
	}
	return idx
}

// Rent returns a lease on a buffer of at least n bytes. Bytes() has length n.
func (r *Registry) Rent(n int) Lease {
	if n < 0 {
		n = 0
	}
	r.rents.Add(1)
	r.outstanding.Add(1)

	idx := classFor(n, r.minShift, len(r.tiers))
	if idx < 0 || r.closed.Load() {
		r.misses.Add(1)
		s := &slab{data: make([]byte, n), tier: -1, out: true}
		return Lease{s: s, gen: s.gen, n: n}
	}

	t := r.tiers[idx]
	t.mu.Lock()
	var s *slab
	if last := len(t.free) - 1; last >= 0 {
		s = t.free[last]
		t.free[last] = nil
		t.free = t.free[:last]
	}
	t.mu.Unlock()

	if s == nil {
		r.misses.Add(1)
		s = &slab{data: make([]byte, t.size), tier: idx}
	}
	s.gen++
	s.out = true
	return Lease{s: s, gen: s.gen, n: n}
}

// Release returns the lease's buffer to its size class.
func (r *Registry) Release(l Lease) error {
	if l.s == nil {
		return nil
	}
	s := l.s
	if s.gen != l.gen || !s.out {
		r.logger.Warn("pool release rejected", "gen", l.gen, "current_gen", s.gen, "out", s.out)
		return ErrStaleLease
	}
	s.out = false
	r.outstanding.Add(-1)

	if s.tier < 0 || r.closed.Load() {
		return nil
	}
	t := r.tiers[s.tier]
	t.mu.Lock()
	if len(t.free) < r.maxFree {
		t.free = append(t.free, s)
	}
	t.mu.Unlock()
	return nil
}

// Outstanding returns the number of leases not yet released.
func (r *Registry) Outstanding() int {
	return int(r.outstanding.Load())
}

// Stats is a point-in-time view of arena usage.
type Stats struct {
	Outstanding int    `json:"outstanding"`
	Rents       uint64 `json:"rents"`
	Misses      uint64 `json:"misses"`
	Idle        int    `json:"idle"`
}

// Stats reports arena counters.
func (r *Registry) Stats() Stats {
	idle := 0
	for _, t := range r.tiers {
		t.mu.Lock()
		idle += len(t.free)
		t.mu.Unlock()
	}
	return Stats{
		Outstanding: r.Outstanding(),
		Rents:       r.rents.Load(),
		Misses:      r.misses.Load(),
		Idle:        idle,
	}
}

// Close drops all idle buffers. Later rents bypass the free lists.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	for _, t := range r.tiers {
		t.mu.Lock()
		clear(t.free)
		t.free = nil
		t.mu.Unlock()
	}
	r.logger.Debug("pool registry closed", "outstanding", r.Outstanding())
}
