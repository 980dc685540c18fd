package svod

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Device.
type Options struct {
	// CacheCapacity is the number of 4096-byte slots in the hash tree
	// cache. Zero uses the descriptor's cache element count.
	CacheCapacity int

	// Logger receives diagnostic messages. If nil, errors are logged
	// to stderr.
	Logger *slog.Logger

	// Registerer receives the device metrics. If nil, metrics are
	// still counted but not exported.
	Registerer prometheus.Registerer
}

// Device is the verified, page-addressed view of an SVOD payload. Disc
// offsets below the payload start read as zeros; everything after is
// served through the hash tree cache.
type Device struct {
	store     *Store
	desc      Descriptor
	cache     *Cache
	blocks    uint32
	dataStart int64
	size      int64
	logger    *slog.Logger
}

// Open opens the fragment files and builds a device over them.
func Open(ctx context.Context, paths []string, desc *Descriptor, opts Options) (*Device, error) {
	store, err := OpenStore(ctx, paths)
	if err != nil {
		return nil, err
	}
	d, err := NewDevice(store, desc, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

// NewDevice checks that store is large enough for desc and returns a
// device reading from it. The device takes ownership of store.
func NewDevice(store *Store, desc *Descriptor, opts Options) (*Device, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = int(desc.CacheElementCount)
	}

	blocks := desc.DataBlocks()
	if err := checkFragments(store, blocks); err != nil {
		return nil, err
	}

	d := &Device{
		store:     store,
		desc:      *desc,
		cache:     newCache(store, opts.CacheCapacity, blocks, desc.RootDigest, NewMetrics(opts.Registerer), opts.Logger),
		blocks:    blocks,
		dataStart: desc.DataStart(),
		size:      desc.DataStart() + int64(blocks)*BlockSize,
		logger:    opts.Logger,
	}
	opts.Logger.Debug("svod device opened",
		"fragments", store.Len(),
		"blocks", blocks,
		"data_start", d.dataStart,
		"cache_slots", opts.CacheCapacity)
	return d, nil
}

// checkFragments verifies that every fragment but the last is full
// size and that the last one reaches the final data block.
func checkFragments(store *Store, blocks uint32) error {
	lastFrag, lastOff := BlockAddress(blocks-1, LevelData)
	if store.Len() < lastFrag+1 {
		return fmt.Errorf("%w: %d fragments, need %d", ErrCorrupt, store.Len(), lastFrag+1)
	}
	for i := 0; i < lastFrag; i++ {
		if store.FragmentSize(i) != FragmentSize {
			return fmt.Errorf("%w: %s is %d bytes, want %d", ErrCorrupt, store.FragmentName(i), store.FragmentSize(i), FragmentSize)
		}
	}
	if need := lastOff + BlockSize; store.FragmentSize(lastFrag) < need {
		return fmt.Errorf("%w: %s is %d bytes, need %d", ErrCorrupt, store.FragmentName(lastFrag), store.FragmentSize(lastFrag), need)
	}
	return nil
}

// Geometry returns the page size and the number of pages on the
// emulated disc.
func (d *Device) Geometry() (pageSize uint32, pages uint64) {
	if d.size <= 0 {
		return PageSize, 0
	}
	return PageSize, uint64((d.size + PageSize - 1) / PageSize)
}

// Size returns the byte length of the emulated disc.
func (d *Device) Size() int64 {
	return max(d.size, 0)
}

func (d *Device) Descriptor() Descriptor {
	return d.desc
}

func (d *Device) Cache() *Cache {
	return d.cache
}

func (d *Device) Stats() Stats {
	return d.cache.Stats()
}

// Close closes the backing fragments.
func (d *Device) Close() error {
	return d.store.Close()
}

// ReadAt fills p from disc offset off. The whole range must lie on the
// disc. On failure nothing in p should be trusted and zero is returned.
func (d *Device) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, fmt.Errorf("%w: %d bytes at disc offset %d, size %d", ErrOutOfRange, len(p), off, d.Size())
	}
	buf := p
	if off < d.dataStart {
		z := int(min(int64(len(buf)), d.dataStart-off))
		clear(buf[:z])
		buf = buf[z:]
		off += int64(z)
	}
	if len(buf) == 0 {
		return len(p), nil
	}

	q := off - d.dataStart
	var err error
	if q/BlockSize == (q+int64(len(buf))-1)/BlockSize {
		err = d.cache.readBlock(ctx, uint32(q/BlockSize), LevelData, int(q%BlockSize), buf)
	} else {
		err = d.readPartial(ctx, q, buf)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// readPartial serves a payload range spanning several data blocks. The
// unaligned head and tail go through the cache; the aligned middle is
// read straight from the fragments and checked against the mid hash
// blocks.
func (d *Device) readPartial(ctx context.Context, q int64, p []byte) error {
	head := int((BlockSize - q%BlockSize) % BlockSize)
	if head >= len(p) {
		return fmt.Errorf("%w: head remainder %d for %d bytes", ErrInvalidBlockOffset, head, len(p))
	}
	if head > 0 {
		if err := d.cache.readBlock(ctx, uint32(q/BlockSize), LevelData, BlockSize-head, p[:head]); err != nil {
			return err
		}
	}

	n := uint32((q + int64(head)) / BlockSize)
	mid := p[head:]
	whole := uint32(len(mid) / BlockSize)
	if err := d.readVerified(ctx, n, mid[:int(whole)*BlockSize]); err != nil {
		return err
	}

	if tail := mid[int(whole)*BlockSize:]; len(tail) > 0 {
		return d.cache.readBlock(ctx, n+whole, LevelData, 0, tail)
	}
	return nil
}

// readVerified reads len(p)/BlockSize consecutive data blocks starting
// at n, one group run at a time, and verifies each against its mid
// hash block.
func (d *Device) readVerified(ctx context.Context, n uint32, p []byte) error {
	for len(p) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		run := min(BlocksPerGroup-n%BlocksPerGroup, uint32(len(p)/BlockSize))
		chunk := p[:int(run)*BlockSize]

		hashes, err := d.cache.MapBlock(ctx, n, LevelMidHash)
		if err != nil {
			return err
		}
		frag, off := BlockAddress(n, LevelData)
		if err := d.cache.readRaw(frag, off, chunk); err != nil {
			return err
		}
		for i := uint32(0); i < run; i++ {
			sum := sha1.Sum(chunk[int(i)*BlockSize : int(i+1)*BlockSize])
			if want := childDigest(hashes, n+i, LevelData); sum != want {
				d.cache.mismatch(n+i, LevelData, frag, off+int64(i)*BlockSize)
				return &HashMismatchError{Block: n + i, Level: LevelData}
			}
		}
		n += run
		p = p[len(chunk):]
	}
	return nil
}

// Verify reads and checks every data block of the payload. progress,
// if not nil, is called after each group with the number of blocks
// checked so far. Verify stops at the first failure.
func (d *Device) Verify(ctx context.Context, progress func(done, total uint32)) error {
	buf := make([]byte, BlocksPerGroup*BlockSize)
	for n := uint32(0); n < d.blocks; {
		run := min(BlocksPerGroup-n%BlocksPerGroup, d.blocks-n)
		if err := d.readVerified(ctx, n, buf[:int(run)*BlockSize]); err != nil {
			return fmt.Errorf("verifying block %d: %w", n, err)
		}
		n += run
		if progress != nil {
			progress(n, d.blocks)
		}
	}
	d.logger.Info("svod payload verified", "blocks", d.blocks, "fragments", d.cache.KnownFragments())
	return nil
}
