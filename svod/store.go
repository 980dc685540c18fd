package svod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// File is a backing fragment. *os.File satisfies it.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

type fragment struct {
	name string
	file File
	size int64
	mu   sync.Mutex // serializes seek+read pairs on file
}

func (f *fragment) readAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(f.file, p)
}

func (f *fragment) writeAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return f.file.Write(p)
}

// Store presents an ordered list of fragments as one seekable address
// space. The cursor (active fragment and local offset) is shared by all
// callers of Read, Write and the position methods.
type Store struct {
	mu        sync.Mutex
	fragments []*fragment
	offsets   []int64 // offsets[i] is where fragment i starts; the last entry is the total length
	active    int
	local     int64
}

// NewStore wraps already-open fragments in the given order.
func NewStore(files ...File) (*Store, error) {
	if len(files) == 0 {
		return nil, ErrNoFragments
	}
	s := &Store{
		fragments: make([]*fragment, len(files)),
		offsets:   make([]int64, len(files)+1),
	}
	for i, f := range files {
		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("sizing fragment %d: %w", i, err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("%w: fragment %d", ErrFragmentSize, i)
		}
		name := fmt.Sprintf("fragment%d", i)
		if n, ok := f.(interface{ Name() string }); ok {
			name = n.Name()
		}
		s.fragments[i] = &fragment{name: name, file: f, size: size}
		s.offsets[i+1] = s.offsets[i] + size
	}
	return s, nil
}

// OpenStore opens the fragment files concurrently and returns a store
// over them in path order.
func OpenStore(ctx context.Context, paths []string) (*Store, error) {
	if len(paths) == 0 {
		return nil, ErrNoFragments
	}
	files := make([]File, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening fragment %s: %w", path, err)
			}
			files[i] = f
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		var s *Store
		if s, err = NewStore(files...); err == nil {
			return s, nil
		}
	}
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
	return nil, err
}

// Len returns the number of fragments.
func (s *Store) Len() int {
	return len(s.fragments)
}

// Size returns the total length of all fragments.
func (s *Store) Size() int64 {
	return s.offsets[len(s.fragments)]
}

// FragmentSize returns the length of fragment i.
func (s *Store) FragmentSize(i int) int64 {
	return s.fragments[i].size
}

// FragmentName returns the name of fragment i, usually its path.
func (s *Store) FragmentName(i int) string {
	return s.fragments[i].name
}

// Locate maps a global offset to a fragment index and local offset.
func (s *Store) Locate(off int64) (int, int64, error) {
	if off < 0 || off >= s.Size() {
		return 0, 0, fmt.Errorf("%w: offset %d, total %d", ErrOutOfRange, off, s.Size())
	}
	i := sort.Search(len(s.fragments), func(i int) bool {
		return s.offsets[i+1] > off
	})
	return i, off - s.offsets[i], nil
}

// The cursor methods below (SetActiveFragment, SetPosition,
// SetLocalPosition, Read, Write) share one position across callers and
// suit sequential, single-user access. The hash tree cache never uses
// them: it reads through ReadFragmentAt, which locks only the fragment
// it touches.

// SetActiveFragment makes fragment i current with its local offset at
// zero. It is a no-op if i is already active.
func (s *Store) SetActiveFragment(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setActive(i)
}

func (s *Store) setActive(i int) error {
	if i == s.active {
		return nil
	}
	if i < 0 || i >= len(s.fragments) {
		return fmt.Errorf("%w: fragment %d of %d", ErrOutOfRange, i, len(s.fragments))
	}
	s.active = i
	s.local = 0
	return nil
}

// ActiveFragment returns the index of the current fragment.
func (s *Store) ActiveFragment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Position returns the cursor as a global offset.
func (s *Store) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[s.active] + s.local
}

// SetPosition moves the cursor to a global offset, switching fragments
// as needed.
func (s *Store) SetPosition(off int64) error {
	i, local, err := s.Locate(off)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = i
	s.local = local
	return nil
}

// SetLocalPosition moves the cursor within the active fragment.
func (s *Store) SetLocalPosition(off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off < 0 || off > s.fragments[s.active].size {
		return fmt.Errorf("%w: offset %d in fragment %d", ErrOutOfRange, off, s.active)
	}
	s.local = off
	return nil
}

// Read fills p from the cursor, advancing into following fragments as
// each one is exhausted. It fails with ErrOutOfRange when the fragments
// run out before p is full.
func (s *Store) Read(p []byte) (int, error) {
	return s.transfer(p, (*fragment).readAt)
}

// Write is the inverse of Read. Fragments opened by OpenStore are
// read-only, so writes through them fail.
func (s *Store) Write(p []byte) (int, error) {
	return s.transfer(p, (*fragment).writeAt)
}

func (s *Store) transfer(p []byte, op func(*fragment, []byte, int64) (int, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := 0
	for done < len(p) {
		f := s.fragments[s.active]
		if s.local >= f.size {
			if s.active+1 >= len(s.fragments) {
				return done, fmt.Errorf("%w: %d of %d bytes transferred", ErrOutOfRange, done, len(p))
			}
			s.active++
			s.local = 0
			continue
		}
		chunk := min(int64(len(p)-done), f.size-s.local)
		n, err := op(f, p[done:done+int(chunk)], s.local)
		done += n
		s.local += int64(n)
		if err != nil {
			return done, fmt.Errorf("%s at %d: %w", f.name, s.local, err)
		}
	}
	return done, nil
}

// ReadFragmentAt reads len(p) bytes at a local offset of fragment i
// without touching the shared cursor.
func (s *Store) ReadFragmentAt(i int, p []byte, off int64) (int, error) {
	if i < 0 || i >= len(s.fragments) {
		return 0, fmt.Errorf("%w: fragment %d of %d", ErrOutOfRange, i, len(s.fragments))
	}
	return s.fragments[i].readAt(p, off)
}

// Close closes every fragment.
func (s *Store) Close() error {
	var errs []error
	for _, f := range s.fragments {
		if err := f.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", f.name, err))
		}
	}
	return errors.Join(errs...)
}
