package svod

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dendrascience/svodfs/internal/testimage"
)

func TestDevice_Geometry(t *testing.T) {
	tests := []struct {
		name      string
		opts      testimage.Options
		wantPages uint64
	}{
		{"implicit start", testimage.Options{}, 20},
		{"explicit start", testimage.Options{StartBlock: 16}, 32 + 20},
		{"enhanced", testimage.Options{Enhanced: true, StartBlock: 16}, 30 + 20},
		{"enhanced zero start", testimage.Options{Enhanced: true}, 20 - 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := openPayload(t, pattern(10), tt.opts, 4)
			pageSize, pages := d.Geometry()
			if pageSize != PageSize {
				t.Errorf("page size = %d, want %d", pageSize, PageSize)
			}
			if pages != tt.wantPages {
				t.Errorf("pages = %d, want %d", pages, tt.wantPages)
			}
		})
	}
}

func TestDevice_ReadAt(t *testing.T) {
	payload := pattern(450)
	d, _ := openPayload(t, payload, testimage.Options{}, 8)

	tests := []struct {
		name   string
		off    int64
		length int
	}{
		{"one page", 0, PageSize},
		{"inside one block", 100, 3000},
		{"whole block", 2 * BlockSize, BlockSize},
		{"two blocks unaligned", BlockSize - 10, 20},
		{"aligned run", 10 * BlockSize, 5 * BlockSize},
		{"head and tail", 10*BlockSize + 7, 5 * BlockSize},
		{"across group", 200*BlockSize + 1, 10 * BlockSize},
		{"across two groups", 100 * BlockSize, 300 * BlockSize},
		{"last bytes", int64(len(payload)) - 5000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]byte, tt.length)
			n, err := d.ReadAt(context.Background(), got, tt.off)
			if err != nil {
				t.Fatalf("ReadAt(%d, %d): %v", tt.off, tt.length, err)
			}
			if n != tt.length {
				t.Errorf("ReadAt returned %d, want %d", n, tt.length)
			}
			if !bytes.Equal(got, payload[tt.off:tt.off+int64(tt.length)]) {
				t.Error("ReadAt returned the wrong bytes")
			}
		})
	}

	if _, err := d.ReadAt(context.Background(), make([]byte, 10), int64(len(payload))-5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read past the disc error = %v, want ErrOutOfRange", err)
	}
}

func TestDevice_ZeroFill(t *testing.T) {
	payload := pattern(4)
	d, _ := openPayload(t, payload, testimage.Options{StartBlock: 16}, 8)
	ctx := context.Background()

	lead := make([]byte, PageSize)
	for i := range lead {
		lead[i] = 0xEE
	}
	if _, err := d.ReadAt(ctx, lead, 0x8000); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(lead, make([]byte, PageSize)) {
		t.Error("lead-in page is not zero filled")
	}
	if reads := d.Stats().BackingReads; reads != 0 {
		t.Errorf("lead-in read issued %d backing reads", reads)
	}

	// A read straddling the payload start is zeros then payload.
	got := make([]byte, 2*PageSize)
	if _, err := d.ReadAt(ctx, got, 0x10000-PageSize); err != nil {
		t.Fatal(err)
	}
	want := append(make([]byte, PageSize), payload[:PageSize]...)
	if !bytes.Equal(got, want) {
		t.Error("read across the payload start returned the wrong bytes")
	}
}

func TestDevice_ReadAtHashMismatch(t *testing.T) {
	payload := pattern(450)
	d, img := openPayload(t, payload, testimage.Options{}, 8)
	if err := img.Corrupt(220, testimage.LevelData, 0); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	buf := make([]byte, 40*BlockSize)
	n, err := d.ReadAt(ctx, buf, 200*BlockSize)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("bulk read error = %v, want ErrHashMismatch", err)
	}
	if n != 0 {
		t.Errorf("failed read returned %d bytes", n)
	}
	if got := d.Stats().HashMismatches; got != 1 {
		t.Errorf("hash mismatches = %d, want 1", got)
	}

	// Neighbours of the damaged block still read.
	if _, err := d.ReadAt(ctx, buf[:BlockSize], 219*BlockSize); err != nil {
		t.Errorf("neighbouring block: %v", err)
	}
}

func TestDevice_Verify(t *testing.T) {
	payload := pattern(450)
	d, img := openPayload(t, payload, testimage.Options{}, 8)

	var calls int
	var last uint32
	err := d.Verify(context.Background(), func(done, total uint32) {
		calls++
		last = done
		if total != 450 {
			t.Errorf("progress total = %d, want 450", total)
		}
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if calls != 3 || last != 450 {
		t.Errorf("progress called %d times ending at %d, want 3 ending at 450", calls, last)
	}

	if err := img.Corrupt(430, testimage.LevelData, 17); err != nil {
		t.Fatal(err)
	}
	err = d.Verify(context.Background(), nil)
	var hm *HashMismatchError
	if !errors.As(err, &hm) {
		t.Fatalf("Verify error = %v, want HashMismatchError", err)
	}
	if hm.Block != 430 || hm.Level != LevelData {
		t.Errorf("mismatch reported at %d %s, want 430 data", hm.Block, hm.Level)
	}
}

func TestNewDevice_FragmentChecks(t *testing.T) {
	img, err := testimage.BuildPayload(t.TempDir(), pattern(10), testimage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	desc, err := ParseDescriptor(img.Descriptor)
	if err != nil {
		t.Fatal(err)
	}

	desc.DataBlockCount = 400
	if _, err := Open(context.Background(), img.Fragments, desc, Options{}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open with undersized fragment error = %v, want ErrCorrupt", err)
	}
	desc.DataBlockCount = BlocksPerFragment + 1
	if _, err := Open(context.Background(), img.Fragments, desc, Options{}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open with missing fragment error = %v, want ErrCorrupt", err)
	}
}
