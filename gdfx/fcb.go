package gdfx

import (
	"sync"
	"sync/atomic"

	"github.com/taigrr/colorhash"
)

const (
	FlagDirectory = 0x10
	FlagSpecial   = 0x40
)

// FCB is the resolved metadata of one file or directory. FCBs are
// shared: resolving the same entry twice yields the same *FCB.
type FCB struct {
	Name       string
	FirstBlock uint32 // first 2048-byte page
	Size       uint32
	Flags      uint8

	special bool
	refs    int // guarded by the owning registry
}

func (f *FCB) IsDir() bool {
	return f.Flags&FlagDirectory != 0
}

// Special reports whether the entry or any of its ancestors carries
// FlagSpecial.
func (f *FCB) Special() bool {
	return f.special
}

// Pages returns how many pages the extent covers.
func (f *FCB) Pages() uint64 {
	return (uint64(f.Size) + PageSize - 1) / PageSize
}

const registryBuckets = 64

type fcbKey struct {
	name       string
	firstBlock uint32
	size       uint32
}

// registry deduplicates FCBs by name, first block and size. Entries
// are never evicted; a volume is immutable and has finitely many.
//
// FCBs are spread over buckets by a hash of their name. Each bucket
// has its own lock, which also guards the refs of every FCB in it, so
// resolves of different names do not contend.
type registry struct {
	buckets [registryBuckets]bucket
	count   atomic.Int64
}

type bucket struct {
	mu   sync.Mutex
	fcbs map[fcbKey]*FCB
}

func bucketOf(name string) int {
	h := colorhash.HashString(name) % registryBuckets
	if h < 0 {
		h = -h
	}
	return h
}

func (r *registry) bucket(name string) *bucket {
	return &r.buckets[bucketOf(name)]
}

// acquire returns the registered FCB for e, creating it if needed, and
// takes a reference on it.
func (r *registry) acquire(e entry, parentSpecial bool) *FCB {
	key := fcbKey{e.name, e.firstBlock, e.size}
	b := r.bucket(e.name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fcbs == nil {
		b.fcbs = make(map[fcbKey]*FCB)
	}
	f, ok := b.fcbs[key]
	if !ok {
		f = &FCB{
			Name:       e.name,
			FirstBlock: e.firstBlock,
			Size:       e.size,
			Flags:      e.flags,
			special:    parentSpecial || e.flags&FlagSpecial != 0,
		}
		b.fcbs[key] = f
		r.count.Add(1)
	}
	f.refs++
	return f
}

func (r *registry) retain(f *FCB) {
	b := r.bucket(f.Name)
	b.mu.Lock()
	f.refs++
	b.mu.Unlock()
}

// release drops one reference, never going below floor.
func (r *registry) release(f *FCB, floor int) {
	b := r.bucket(f.Name)
	b.mu.Lock()
	if f.refs > floor {
		f.refs--
	}
	b.mu.Unlock()
}

func (r *registry) refs(f *FCB) int {
	b := r.bucket(f.Name)
	b.mu.Lock()
	defer b.mu.Unlock()
	return f.refs
}

func (r *registry) len() int {
	return int(r.count.Load())
}
