package gdfx

import (
	"context"
	"encoding/binary"
	"fmt"
)

const (
	entryHeaderSize = 14
	// maxEntryOffset is the last offset inside a node at which an entry
	// header still fits.
	maxEntryOffset = PageSize - entryHeaderSize
	minEntrySize   = 16
)

// entry is one directory record as stored on disc. Child offsets are
// in 4-byte units from the start of the directory; zero means none.
type entry struct {
	left, right uint16
	firstBlock  uint32
	size        uint32
	flags       uint8
	name        string
}

// DirEntry describes one child listed by ReadDir.
type DirEntry struct {
	Name       string
	FirstBlock uint32
	Size       uint32
	Flags      uint8
}

func (e DirEntry) IsDir() bool {
	return e.Flags&FlagDirectory != 0
}

func parseEntry(node []byte, at int) (entry, error) {
	if at < 0 || at > maxEntryOffset {
		return entry{}, fmt.Errorf("%w: entry offset 0x%x", ErrInvalidDirectory, at)
	}
	b := node[at:]
	e := entry{
		left:       binary.LittleEndian.Uint16(b[0:]),
		right:      binary.LittleEndian.Uint16(b[2:]),
		firstBlock: binary.LittleEndian.Uint32(b[4:]),
		size:       binary.LittleEndian.Uint32(b[8:]),
		flags:      b[12],
	}
	n := int(b[13])
	if e.left == 0xFFFF && e.right == 0xFFFF {
		return entry{}, fmt.Errorf("%w: padding at offset 0x%x", ErrInvalidDirectory, at)
	}
	if n == 0 || at+entryHeaderSize+n > len(node) {
		return entry{}, fmt.Errorf("%w: name of %d bytes at offset 0x%x", ErrInvalidDirectory, n, at)
	}
	e.name = string(b[entryHeaderSize : entryHeaderSize+n])
	return e, nil
}

// compareNames orders names the way directory trees are sorted:
// byte-wise after folding ASCII letters to upper case.
func compareNames(a, b string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := upper(a[i]), upper(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// dirReader reads a directory one node at a time, keeping the most
// recent node.
type dirReader struct {
	v    *Volume
	dir  *FCB
	node [PageSize]byte
	page int
}

func (v *Volume) newDirReader(dir *FCB) *dirReader {
	return &dirReader{v: v, dir: dir, page: -1}
}

func (r *dirReader) entryAt(ctx context.Context, off int) (entry, error) {
	if off < 0 || off >= int(r.dir.Size) {
		return entry{}, fmt.Errorf("%w: offset 0x%x outside %q of %d bytes", ErrInvalidDirectory, off, r.dir.Name, r.dir.Size)
	}
	page := off / PageSize
	if page != r.page {
		addr := (int64(r.dir.FirstBlock) + int64(page)) << r.v.pageShift
		if _, err := r.v.dev.ReadAt(ctx, r.node[:], addr); err != nil {
			r.page = -1
			return entry{}, fmt.Errorf("reading directory %q: %w", r.dir.Name, err)
		}
		r.page = page
	}
	return parseEntry(r.node[:], off%PageSize)
}

// lookup descends the directory tree looking for name.
func (r *dirReader) lookup(ctx context.Context, name string) (entry, error) {
	maxSteps := int(r.dir.Size)/minEntrySize + 1
	off := 0
	for steps := 0; steps <= maxSteps; steps++ {
		e, err := r.entryAt(ctx, off)
		if err != nil {
			return entry{}, err
		}
		c := compareNames(name, e.name)
		if c == 0 {
			return e, nil
		}
		next := e.left
		if c > 0 {
			next = e.right
		}
		if next == 0 {
			return entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		off = int(next) << 2
	}
	return entry{}, fmt.Errorf("%w: %q has a cycle", ErrInvalidDirectory, r.dir.Name)
}

// walk visits every entry in name order.
func (r *dirReader) walk(ctx context.Context, fn func(entry) error) error {
	seen := make(map[int]bool)
	var visit func(off int) error
	visit = func(off int) error {
		if seen[off] {
			return fmt.Errorf("%w: %q has a cycle", ErrInvalidDirectory, r.dir.Name)
		}
		seen[off] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := r.entryAt(ctx, off)
		if err != nil {
			return err
		}
		if e.left != 0 {
			if err := visit(int(e.left) << 2); err != nil {
				return err
			}
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.right != 0 {
			return visit(int(e.right) << 2)
		}
		return nil
	}
	return visit(0)
}
