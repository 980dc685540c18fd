package svod

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// slot is one entry of the cache ring. Slots are linked by index into
// Cache.slots; the ring is closed and never changes size.
type slot struct {
	block uint32 // first data block covered, see groupKey
	level Level
	valid bool
	data  []byte
	next  int
	prev  int
}

type slotKey struct {
	block uint32
	level Level
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	HashMismatches uint64
	BackingReads   uint64
	BackingBytes   uint64
}

type counters struct {
	hits, misses, evictions, mismatches, reads, bytes atomic.Uint64
}

// Cache resolves logical block numbers to verified block payloads. It
// keeps a fixed number of slots in an LRU ring shared by data and hash
// blocks: the head is the most recently used slot and the slot before
// it is the next to be overwritten.
//
// All ring state and the top digest table are guarded by mu.
type Cache struct {
	mu      sync.Mutex
	store   *Store
	blocks  uint32
	slots   []slot
	index   map[slotKey]int
	head    int
	tops    [][DigestSize]byte // tops[f] is the expected digest of fragment f's top hash block
	scratch []byte

	counters counters
	metrics  *Metrics
	logger   *slog.Logger
}

func newCache(store *Store, capacity int, blocks uint32, root [DigestSize]byte, metrics *Metrics, logger *slog.Logger) *Cache {
	c := &Cache{
		store:   store,
		blocks:  blocks,
		slots:   make([]slot, capacity),
		index:   make(map[slotKey]int, capacity),
		tops:    [][DigestSize]byte{root},
		scratch: make([]byte, BlockSize),
		metrics: metrics,
		logger:  logger,
	}
	for i := range c.slots {
		c.slots[i].data = make([]byte, BlockSize)
		c.slots[i].next = (i + 1) % capacity
		c.slots[i].prev = (i + capacity - 1) % capacity
	}
	return c
}

// Capacity returns the number of slots in the ring.
func (c *Cache) Capacity() int {
	return len(c.slots)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.counters.hits.Load(),
		Misses:         c.counters.misses.Load(),
		Evictions:      c.counters.evictions.Load(),
		HashMismatches: c.counters.mismatches.Load(),
		BackingReads:   c.counters.reads.Load(),
		BackingBytes:   c.counters.bytes.Load(),
	}
}

// KnownFragments returns how many fragment top digests are known. The
// table only grows, one fragment at a time in order.
func (c *Cache) KnownFragments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tops)
}

// MapBlock returns a copy of the verified block covering data block n
// at the given level. Hash levels round n down to their group.
func (c *Cache) MapBlock(ctx context.Context, n uint32, level Level) ([]byte, error) {
	out := make([]byte, BlockSize)
	if err := c.readBlock(ctx, n, level, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readBlock copies part of a verified block into p starting at off
// within the block.
func (c *Cache) readBlock(ctx context.Context, n uint32, level Level, off int, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if level > LevelTopHash {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if n >= c.blocks {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, n, c.blocks)
	}
	if off < 0 || off+len(p) > BlockSize {
		return fmt.Errorf("%w: %d bytes at %d", ErrInvalidBlockOffset, len(p), off)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.resolve(n, level)
	if err != nil {
		return err
	}
	copy(p, c.slots[i].data[off:])
	return nil
}

// resolve returns the slot holding (n, level), loading and verifying
// it and any missing ancestors. Verification starts at the nearest
// cached ancestor, or at the fragment's top hash block, and walks down.
func (c *Cache) resolve(n uint32, level Level) (int, error) {
	if i, ok := c.index[slotKey{groupKey(n, level), level}]; ok {
		c.promote(i)
		c.hit()
		return i, nil
	}
	c.miss()

	l := LevelTopHash
	var want [DigestSize]byte
	found := false
	for a := level + 1; a <= LevelTopHash; a++ {
		if i, ok := c.index[slotKey{groupKey(n, a), a}]; ok {
			c.promote(i)
			l = a - 1
			want = childDigest(c.slots[i].data, n, l)
			found = true
			break
		}
	}
	if !found {
		var err error
		if want, err = c.topDigest(fragmentOf(n)); err != nil {
			return -1, err
		}
	}

	for {
		i, err := c.load(n, l, want)
		if err != nil {
			return -1, err
		}
		if l == level {
			return i, nil
		}
		l--
		want = childDigest(c.slots[i].data, n, l)
	}
}

// topDigest returns the expected digest of fragment f's top hash
// block. Each fragment's top block carries the digest of the next one,
// so unknown entries are discovered by verifying the preceding tops.
func (c *Cache) topDigest(f int) ([DigestSize]byte, error) {
	for len(c.tops) <= f {
		prev := len(c.tops) - 1
		i, err := c.resolve(uint32(prev)*BlocksPerFragment, LevelTopHash)
		if err != nil {
			return [DigestSize]byte{}, err
		}
		c.tops = append(c.tops, childDigest(c.slots[i].data, 0, LevelTopHash))
		c.logger.Debug("fragment top digest discovered", "fragment", prev+1)
	}
	return c.tops[f], nil
}

// load reads (n, level) from the backing store, checks it against want
// and installs it at the head of the ring.
func (c *Cache) load(n uint32, level Level, want [DigestSize]byte) (int, error) {
	frag, off := BlockAddress(n, level)
	if err := c.readRaw(frag, off, c.scratch); err != nil {
		return -1, err
	}
	key := groupKey(n, level)
	if sha1.Sum(c.scratch) != want {
		c.mismatch(key, level, frag, off)
		return -1, &HashMismatchError{Block: key, Level: level}
	}
	return c.install(key, level, c.scratch), nil
}

// install overwrites the tail slot and makes it the head.
func (c *Cache) install(block uint32, level Level, data []byte) int {
	t := c.slots[c.head].prev
	s := &c.slots[t]
	if s.valid {
		delete(c.index, slotKey{s.block, s.level})
		c.counters.evictions.Add(1)
		c.metrics.CacheEvictions.Inc()
	}
	s.block, s.level, s.valid = block, level, true
	copy(s.data, data)
	c.index[slotKey{block, level}] = t
	c.head = t
	return t
}

// promote moves slot i to the head of the ring.
func (c *Cache) promote(i int) {
	if i == c.head {
		return
	}
	if i == c.slots[c.head].prev {
		c.head = i
		return
	}
	s := &c.slots[i]
	c.slots[s.prev].next = s.next
	c.slots[s.next].prev = s.prev

	tail := c.slots[c.head].prev
	s.prev = tail
	s.next = c.head
	c.slots[tail].next = i
	c.slots[c.head].prev = i
	c.head = i
}

// readRaw reads exactly len(p) bytes at a fragment-local offset. A
// short read means the container is truncated or damaged.
func (c *Cache) readRaw(frag int, off int64, p []byte) error {
	n, err := c.store.ReadFragmentAt(frag, p, off)
	c.counters.reads.Add(1)
	c.counters.bytes.Add(uint64(n))
	c.metrics.BackingReads.Inc()
	c.metrics.BackingBytes.Add(float64(n))
	if err != nil || n != len(p) {
		return &CorruptionError{Fragment: frag, Offset: off, Want: len(p), Got: n, Err: err}
	}
	return nil
}

func (c *Cache) hit() {
	c.counters.hits.Add(1)
	c.metrics.CacheHits.Inc()
}

func (c *Cache) miss() {
	c.counters.misses.Add(1)
	c.metrics.CacheMisses.Inc()
}

func (c *Cache) mismatch(block uint32, level Level, frag int, off int64) {
	c.counters.mismatches.Add(1)
	c.metrics.HashMismatches.Inc()
	c.logger.Error("block hash mismatch", "block", block, "level", level.String(), "fragment", frag, "offset", off)
}

func childDigest(parent []byte, n uint32, level Level) [DigestSize]byte {
	var d [DigestSize]byte
	off := digestOffset(n, level)
	copy(d[:], parent[off:off+DigestSize])
	return d
}
