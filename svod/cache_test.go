package svod

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/dendrascience/svodfs/internal/testimage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func pattern(blocks int) []byte {
	b := make([]byte, blocks*BlockSize)
	for i := range b {
		b[i] = byte(i/BlockSize*31 + i%253 + 1)
	}
	return b
}

func openPayload(t *testing.T, payload []byte, opts testimage.Options, capacity int) (*Device, *testimage.Image) {
	t.Helper()
	img, err := testimage.BuildPayload(t.TempDir(), payload, opts)
	if err != nil {
		t.Fatalf("building image: %v", err)
	}
	desc, err := ParseDescriptor(img.Descriptor)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	d, err := Open(context.Background(), img.Fragments, desc, Options{
		CacheCapacity: capacity,
		Registerer:    prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, img
}

func TestCache_MapBlockIdempotent(t *testing.T) {
	payload := pattern(10)
	d, _ := openPayload(t, payload, testimage.Options{}, 8)
	c := d.Cache()
	ctx := context.Background()

	first, err := c.MapBlock(ctx, 3, LevelData)
	if err != nil {
		t.Fatalf("MapBlock: %v", err)
	}
	if !bytes.Equal(first, payload[3*BlockSize:4*BlockSize]) {
		t.Fatal("MapBlock returned the wrong payload")
	}
	reads := c.Stats().BackingReads

	second, err := c.MapBlock(ctx, 3, LevelData)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("second MapBlock returned different bytes")
	}
	if got := c.Stats().BackingReads; got != reads {
		t.Errorf("second MapBlock issued %d backing reads", got-reads)
	}
	if got := testutil.ToFloat64(c.metrics.CacheHits); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}

	// The returned slice is a copy.
	first[0] ^= 0xFF
	third, _ := c.MapBlock(ctx, 3, LevelData)
	if third[0] == first[0] {
		t.Error("mutating a returned block changed the cached copy")
	}
}

func TestCache_ResolvesAncestorsOnce(t *testing.T) {
	d, _ := openPayload(t, pattern(10), testimage.Options{}, 8)
	c := d.Cache()
	ctx := context.Background()

	if _, err := c.MapBlock(ctx, 0, LevelData); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().BackingReads; got != 3 {
		t.Errorf("cold MapBlock issued %d backing reads, want 3 (top, mid, data)", got)
	}
	if _, err := c.MapBlock(ctx, 1, LevelData); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().BackingReads; got != 4 {
		t.Errorf("sibling MapBlock issued %d more backing reads, want 1", got-3)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	d, _ := openPayload(t, pattern(10), testimage.Options{}, 3)
	c := d.Cache()
	ctx := context.Background()

	// Fills all three slots: top, mid, data 0.
	if _, err := c.MapBlock(ctx, 0, LevelData); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().Evictions; got != 0 {
		t.Fatalf("evictions after filling = %d, want 0", got)
	}
	// Touches mid, then installs data 1 over the least recently used
	// slot, which holds the top hash block.
	if _, err := c.MapBlock(ctx, 1, LevelData); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
	if _, ok := c.index[slotKey{0, LevelTopHash}]; ok {
		t.Error("top hash block survived eviction")
	}
	for _, key := range []slotKey{{0, LevelMidHash}, {0, LevelData}, {1, LevelData}} {
		if _, ok := c.index[key]; !ok {
			t.Errorf("block %d %s was evicted", key.block, key.level)
		}
	}

	hits := c.Stats().Hits
	if _, err := c.MapBlock(ctx, 0, LevelData); err != nil {
		t.Fatal(err)
	}
	if c.Stats().Hits != hits+1 {
		t.Error("data block 0 should still be cached")
	}
	if got := testutil.ToFloat64(c.metrics.CacheEvictions); got != 1 {
		t.Errorf("eviction metric = %v, want 1", got)
	}

	// The evicted top hash block is fetched and verified again, with a
	// single backing read checked against the root digest.
	reads := c.Stats().BackingReads
	if _, err := c.MapBlock(ctx, 0, LevelTopHash); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().BackingReads - reads; got != 1 {
		t.Errorf("re-resolving the evicted top hash block issued %d backing reads, want 1", got)
	}
	if _, ok := c.index[slotKey{0, LevelTopHash}]; !ok {
		t.Error("top hash block not cached after re-resolve")
	}
}

func TestCache_SingleSlot(t *testing.T) {
	payload := pattern(300)
	d, _ := openPayload(t, payload, testimage.Options{}, 1)
	c := d.Cache()
	for _, n := range []uint32{0, 299, 204, 5} {
		got, err := c.MapBlock(context.Background(), n, LevelData)
		if err != nil {
			t.Fatalf("MapBlock(%d): %v", n, err)
		}
		if !bytes.Equal(got, payload[int(n)*BlockSize:int(n+1)*BlockSize]) {
			t.Errorf("MapBlock(%d) returned the wrong payload", n)
		}
	}
}

func TestCache_HashMismatch(t *testing.T) {
	tests := []struct {
		name    string
		block   uint32
		level   int
		failing uint32
		healthy uint32
	}{
		{"data", 5, testimage.LevelData, 5, 4},
		{"mid", 204, testimage.LevelMid, 210, 3},
		{"top", 0, testimage.LevelTop, 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, img := openPayload(t, pattern(300), testimage.Options{}, 16)
			c := d.Cache()
			ctx := context.Background()

			if tt.level != testimage.LevelTop {
				// Warm the healthy block so its ancestors are cached.
				if _, err := c.MapBlock(ctx, tt.healthy, LevelData); err != nil {
					t.Fatal(err)
				}
			}
			if err := img.Corrupt(tt.block, tt.level, 100); err != nil {
				t.Fatal(err)
			}

			_, err := c.MapBlock(ctx, tt.failing, LevelData)
			var hm *HashMismatchError
			if !errors.As(err, &hm) || !errors.Is(err, ErrHashMismatch) {
				t.Fatalf("MapBlock error = %v, want HashMismatchError", err)
			}
			if !IsFatal(err) {
				t.Error("hash mismatch should be fatal")
			}
			if got := testutil.ToFloat64(c.metrics.HashMismatches); got != 1 {
				t.Errorf("hash mismatch metric = %v, want 1", got)
			}

			// The rejected block is not cached; a retry fails again.
			if _, err := c.MapBlock(ctx, tt.failing, LevelData); !errors.Is(err, ErrHashMismatch) {
				t.Errorf("retry error = %v, want ErrHashMismatch", err)
			}

			if tt.level != testimage.LevelTop {
				if _, err := c.MapBlock(ctx, tt.healthy, LevelData); err != nil {
					t.Errorf("previously verified block failed after corruption elsewhere: %v", err)
				}
			}
		})
	}
}

func TestCache_ChainedFragments(t *testing.T) {
	n := uint32(BlocksPerFragment + 3)
	payload := make([]byte, int(n+1)*BlockSize)
	copy(payload[int(n)*BlockSize:], bytes.Repeat([]byte("fragment one "), 300))

	d, img := openPayload(t, payload, testimage.Options{MinDataBlocks: BlocksPerFragment + 10}, 8)
	if len(img.Fragments) != 2 {
		t.Fatalf("built %d fragments, want 2", len(img.Fragments))
	}
	c := d.Cache()
	if c.KnownFragments() != 1 {
		t.Fatalf("known fragments before any read = %d, want 1", c.KnownFragments())
	}

	got, err := c.MapBlock(context.Background(), n, LevelData)
	if err != nil {
		t.Fatalf("MapBlock in second fragment: %v", err)
	}
	if !bytes.Equal(got, payload[int(n)*BlockSize:]) {
		t.Error("second fragment block returned the wrong payload")
	}
	if c.KnownFragments() != 2 {
		t.Errorf("known fragments = %d, want 2", c.KnownFragments())
	}

	// A damaged first top block breaks the chain to the second fragment.
	d2, img2 := openPayload(t, payload, testimage.Options{MinDataBlocks: BlocksPerFragment + 10}, 8)
	if err := img2.Corrupt(0, testimage.LevelTop, 4070); err != nil {
		t.Fatal(err)
	}
	if _, err := d2.Cache().MapBlock(context.Background(), n, LevelData); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("MapBlock through broken chain error = %v, want ErrHashMismatch", err)
	}
}

func TestCache_ShortRead(t *testing.T) {
	d, img := openPayload(t, pattern(10), testimage.Options{}, 8)
	if err := os.Truncate(img.Fragments[0], 5*BlockSize); err != nil {
		t.Fatal(err)
	}
	_, err := d.Cache().MapBlock(context.Background(), 9, LevelData)
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("MapBlock error = %v, want CorruptionError", err)
	}
	if ce.Want != BlockSize || ce.Got != 0 {
		t.Errorf("CorruptionError read %d of %d, want 0 of %d", ce.Got, ce.Want, BlockSize)
	}
	if !IsFatal(err) {
		t.Error("short read should be fatal")
	}
}

func TestCache_InvalidRequests(t *testing.T) {
	d, _ := openPayload(t, pattern(10), testimage.Options{}, 8)
	c := d.Cache()
	ctx := context.Background()
	if _, err := c.MapBlock(ctx, 10, LevelData); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("block past end error = %v, want ErrOutOfRange", err)
	}
	if _, err := c.MapBlock(ctx, 0, Level(3)); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("bad level error = %v, want ErrInvalidLevel", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.MapBlock(cancelled, 0, LevelData); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled MapBlock error = %v, want context.Canceled", err)
	}
}
