package gdfx

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// File is an open handle on a file of a mounted volume. Its position
// is private to the handle.
type File struct {
	v   *Volume
	fcb *FCB

	mu     sync.Mutex
	pos    int64
	closed bool
}

var (
	_ io.ReadSeekCloser = (*File)(nil)
	_ io.ReaderAt       = (*File)(nil)
	_ io.Writer         = (*File)(nil)
)

func (f *File) FCB() *FCB {
	return f.fcb
}

func (f *File) Name() string {
	return f.fcb.Name
}

func (f *File) Size() int64 {
	return int64(f.fcb.Size)
}

// Seek sets the position for the next Read. SeekEnd counts backwards
// from the end of the file: the new position is size minus offset.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	pos := offset
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.Size() - offset
	default:
		return f.pos, fmt.Errorf("%w: whence %d", ErrInvalidSeek, whence)
	}
	if pos < 0 {
		return f.pos, fmt.Errorf("%w: position %d", ErrInvalidSeek, pos)
	}
	f.pos = pos
	return pos, nil
}

// Read reads from the current position and advances it.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	n, err := f.readAt(ctx, p, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadAt reads from off without moving the position. Like
// io.ReaderAt, it returns io.EOF when fewer than len(p) bytes remain.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.ReadAtContext(context.Background(), p, off)
}

func (f *File) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidSeek, off)
	}
	n, err := f.readAt(ctx, p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (f *File) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= f.Size() {
		return 0, ErrEndOfFile
	}
	if f.fcb.IsDir() {
		return 0, fmt.Errorf("%q: %w", f.fcb.Name, ErrNotAFile)
	}
	if len(p) == 0 {
		return 0, nil
	}
	count := min(int64(len(p)), f.Size()-off)

	addr := int64(f.fcb.FirstBlock)<<f.v.pageShift + off
	length := (count + PageSize - 1) &^ (PageSize - 1)
	length = min(length, int64(f.v.pages)<<f.v.pageShift-addr)

	buf := p[:count]
	if length != count {
		buf = make([]byte, length)
	}
	if _, err := f.v.dev.ReadAt(ctx, buf, addr); err != nil {
		return 0, fmt.Errorf("reading %q at %d: %w", f.fcb.Name, off, err)
	}
	if length != count {
		copy(p, buf[:count])
	}
	return int(count), nil
}

// Write always fails; volumes are read-only.
func (f *File) Write(p []byte) (int, error) {
	return 0, ErrNotSupported
}

// Close releases the handle's reference on its FCB.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	f.v.Release(f.fcb)
	return nil
}
