package gdfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device is the page-addressed disc a volume is read from.
type Device interface {
	Geometry() (pageSize uint32, pages uint64)
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Options configures Mount.
type Options struct {
	// Logger receives diagnostic messages. If nil, errors are logged
	// to stderr.
	Logger *slog.Logger
}

// Volume is a mounted GDFX file system.
type Volume struct {
	dev       Device
	id        uuid.UUID
	pageShift uint
	pages     uint64
	lastPage  uint64
	header    Header
	root      *FCB
	fcbs      registry
	logger    *slog.Logger
}

// Mount validates the disc geometry and header of dev and returns the
// volume rooted at the header's root directory.
func Mount(ctx context.Context, dev Device, opts Options) (*Volume, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	pageSize, pages := dev.Geometry()
	if pageSize != PageSize {
		return nil, fmt.Errorf("%w: page size %d", ErrVolumeMismatch, pageSize)
	}
	if pages*PageSize < HeaderOffset+HeaderSize {
		return nil, fmt.Errorf("%w: %d pages cannot hold a header", ErrVolumeMismatch, pages)
	}

	v := &Volume{
		dev:       dev,
		id:        uuid.New(),
		pageShift: uint(bits.TrailingZeros32(pageSize)),
		pages:     pages,
		lastPage:  pages - 1,
	}
	v.logger = opts.Logger.With("volume", v.id.String())

	buf := make([]byte, HeaderSize)
	if _, err := dev.ReadAt(ctx, buf, HeaderOffset); err != nil {
		return nil, fmt.Errorf("reading volume header: %w", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	v.header = *h

	v.root = &FCB{
		FirstBlock: h.RootBlock,
		Size:       h.RootSize,
		Flags:      FlagDirectory,
		refs:       1,
	}
	if err := v.checkExtent(v.root.FirstBlock, v.root.Size); err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	v.logger.Debug("GDFX volume mounted",
		"pages", pages,
		"root_block", h.RootBlock,
		"root_size", h.RootSize)
	return v, nil
}

// ID identifies this mount in logs.
func (v *Volume) ID() uuid.UUID {
	return v.id
}

func (v *Volume) Root() *FCB {
	return v.root
}

func (v *Volume) Created() time.Time {
	return v.header.Created
}

// Pages returns the number of pages on the disc.
func (v *Volume) Pages() uint64 {
	return v.pages
}

func (v *Volume) checkExtent(first, size uint32) error {
	if size == 0 {
		return nil
	}
	pages := (uint64(size) + PageSize - 1) >> v.pageShift
	if uint64(first)+pages-1 > v.lastPage {
		return fmt.Errorf("%w: pages %d+%d, last page %d", ErrExtentOutOfRange, first, pages, v.lastPage)
	}
	return nil
}

// ResolveChild finds name in the directory parent. The returned FCB
// carries a reference the caller must drop with Release.
func (v *Volume) ResolveChild(ctx context.Context, parent *FCB, name string) (*FCB, error) {
	if !parent.IsDir() {
		return nil, fmt.Errorf("%q: %w", parent.Name, ErrNotADirectory)
	}
	if parent.Size == 0 {
		if parent == v.root {
			return nil, fmt.Errorf("%w: root directory is empty", ErrInvalidDirectory)
		}
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidDirectory, parent.Name)
	}
	e, err := v.newDirReader(parent).lookup(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			v.logger.Warn("directory lookup failed", "dir", parent.Name, "name", name, "error", err)
		}
		return nil, err
	}
	return v.findOrCreateFCB(e, parent)
}

func (v *Volume) findOrCreateFCB(e entry, parent *FCB) (*FCB, error) {
	if err := v.checkExtent(e.firstBlock, e.size); err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	return v.fcbs.acquire(e, parent.special), nil
}

// Lookup resolves a slash separated path from the root. Intermediate
// directories are released on the way; the returned FCB carries one
// reference.
func (v *Volume) Lookup(ctx context.Context, path string) (*FCB, error) {
	cur := v.root
	for _, name := range splitPath(path) {
		next, err := v.ResolveChild(ctx, cur, name)
		v.Release(cur)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		cur = next
	}
	if cur == v.root {
		v.fcbs.retain(cur)
	}
	return cur, nil
}

// Stat resolves path without keeping a reference.
func (v *Volume) Stat(ctx context.Context, path string) (*FCB, error) {
	f, err := v.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	v.Release(f)
	return f, nil
}

// Open resolves path and returns a handle positioned at its start.
func (v *Volume) Open(ctx context.Context, path string) (*File, error) {
	f, err := v.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return &File{v: v, fcb: f}, nil
}

// OpenFCB returns a new handle on an already resolved FCB.
func (v *Volume) OpenFCB(f *FCB) *File {
	v.fcbs.retain(f)
	return &File{v: v, fcb: f}
}

// ReadDir lists the children of dir in name order.
func (v *Volume) ReadDir(ctx context.Context, dir *FCB) ([]DirEntry, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("%q: %w", dir.Name, ErrNotADirectory)
	}
	if dir.Size == 0 {
		return nil, nil
	}
	var out []DirEntry
	err := v.newDirReader(dir).walk(ctx, func(e entry) error {
		out = append(out, DirEntry{
			Name:       e.name,
			FirstBlock: e.firstBlock,
			Size:       e.size,
			Flags:      e.flags,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", dir.Name, err)
	}
	return out, nil
}

// Release drops a reference taken by ResolveChild, Lookup or Open. The
// root directory is pinned for the life of the volume.
func (v *Volume) Release(f *FCB) {
	if f == v.root {
		v.fcbs.release(f, 1)
		return
	}
	v.fcbs.release(f, 0)
}

// Refs returns the current reference count of f.
func (v *Volume) Refs(f *FCB) int {
	return v.fcbs.refs(f)
}

// FCBs returns how many distinct FCBs have been created.
func (v *Volume) FCBs() int {
	return v.fcbs.len()
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}
