package gdfxfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"github.com/dendrascience/svodfs/gdfx"
	"github.com/dendrascience/svodfs/internal/testimage"
	"github.com/dendrascience/svodfs/svod"
	"github.com/dendrascience/svodfs/util"
)

var intro = bytes.Repeat([]byte("intro "), 2000)

func newTestFS(t *testing.T) (*FS, *testimage.Image) {
	t.Helper()
	files := []testimage.File{
		{Path: "default.xex", Data: []byte("XEX2")},
		{Path: "media/intro.wmv", Data: intro},
	}
	img, err := testimage.Build(t.TempDir(), files, testimage.Options{EmptyDirs: []string{"empty"}})
	if err != nil {
		t.Fatal(err)
	}
	desc, err := svod.ParseDescriptor(img.Descriptor)
	if err != nil {
		t.Fatal(err)
	}
	dev, err := svod.Open(context.Background(), img.Fragments, desc, svod.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	vol, err := gdfx.Mount(context.Background(), dev, gdfx.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return New(vol, Options{Uid: 1000, Gid: 1000}), img
}

func rootDir(t *testing.T, f *FS) *Dir {
	t.Helper()
	n, err := f.Root()
	if err != nil {
		t.Fatal(err)
	}
	return n.(*Dir)
}

func TestDir_AttrAndReadDirAll(t *testing.T) {
	f, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, f)

	var a fuse.Attr
	if err := root.Attr(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if a.Inode != 1 || !a.Mode.IsDir() || a.Mode.Perm() != 0o555 {
		t.Errorf("root attr = inode %d mode %v", a.Inode, a.Mode)
	}
	if a.Uid != 1000 {
		t.Errorf("root uid = %d, want 1000", a.Uid)
	}

	dirents, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("ReadDirAll: %v", err)
	}
	want := []struct {
		name string
		typ  fuse.DirentType
	}{
		{"default.xex", fuse.DT_File},
		{"empty", fuse.DT_Dir},
		{"media", fuse.DT_Dir},
	}
	if len(dirents) != len(want) {
		t.Fatalf("ReadDirAll returned %d entries, want %d", len(dirents), len(want))
	}
	for i, d := range dirents {
		if d.Name != want[i].name || d.Type != want[i].typ {
			t.Errorf("dirent %d = %s/%v, want %s/%v", i, d.Name, d.Type, want[i].name, want[i].typ)
		}
	}

	// Inodes from listings and lookups agree.
	node, err := root.Lookup(ctx, "default.xex")
	if err != nil {
		t.Fatal(err)
	}
	if err := node.Attr(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if a.Inode != dirents[0].Inode {
		t.Errorf("lookup inode %d, listing inode %d", a.Inode, dirents[0].Inode)
	}
	if a.Size != 4 || a.Mode != 0o444 {
		t.Errorf("file attr size %d mode %v", a.Size, a.Mode)
	}
}

func TestDir_LookupErrors(t *testing.T) {
	f, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, f)

	if _, err := root.Lookup(ctx, "missing"); !errors.Is(err, syscall.ENOENT) {
		t.Errorf("missing name error = %v, want ENOENT", err)
	}
	empty, err := root.Lookup(ctx, "EMPTY")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := empty.(*Dir).Lookup(ctx, "x"); !errors.Is(err, syscall.ENOENT) {
		t.Errorf("lookup in empty dir error = %v, want ENOENT", err)
	}
}

func TestFile_OpenRead(t *testing.T) {
	f, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, f)

	media, err := root.Lookup(ctx, "media")
	if err != nil {
		t.Fatal(err)
	}
	node, err := media.(*Dir).Lookup(ctx, "intro.wmv")
	if err != nil {
		t.Fatal(err)
	}
	file := node.(*File)

	if _, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{}); !errors.Is(err, syscall.EROFS) {
		t.Errorf("read-write open error = %v, want EROFS", err)
	}

	resp := &fuse.OpenResponse{}
	h, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, resp)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Flags&fuse.OpenKeepCache == 0 {
		t.Error("open response should keep the page cache")
	}
	handle := h.(*Handle)

	tests := []struct {
		off  int64
		size int
		want []byte
	}{
		{0, 4096, intro[:4096]},
		{5000, 3000, intro[5000:8000]},
		{int64(len(intro)) - 10, 4096, intro[len(intro)-10:]},
		{int64(len(intro)) + 10, 4096, nil},
	}
	for _, tt := range tests {
		rresp := &fuse.ReadResponse{}
		if err := handle.Read(ctx, &fuse.ReadRequest{Offset: tt.off, Size: tt.size}, rresp); err != nil {
			t.Fatalf("Read(%d, %d): %v", tt.off, tt.size, err)
		}
		if !bytes.Equal(rresp.Data, tt.want) {
			t.Errorf("Read(%d, %d) returned %d bytes, want %d", tt.off, tt.size, len(rresp.Data), len(tt.want))
		}
	}

	if err := handle.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Errorf("Release: %v", err)
	}
	file.Forget()
	if got := f.vol.Refs(file.fcb); got != 0 {
		t.Errorf("refs after release and forget = %d, want 0", got)
	}
}

func TestNode_ForgetDropsInode(t *testing.T) {
	f, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, f)

	inodeOf := func(n interface {
		Attr(context.Context, *fuse.Attr) error
	}) uint64 {
		var a fuse.Attr
		if err := n.Attr(ctx, &a); err != nil {
			t.Fatal(err)
		}
		return a.Inode
	}

	media, err := root.Lookup(ctx, "media")
	if err != nil {
		t.Fatal(err)
	}
	node, err := media.(*Dir).Lookup(ctx, "intro.wmv")
	if err != nil {
		t.Fatal(err)
	}
	file := node.(*File)
	first := inodeOf(file)

	file.Forget()
	if got := f.vol.Refs(file.fcb); got != 0 {
		t.Errorf("refs after Forget = %d, want 0", got)
	}
	fresh, err := media.(*Dir).Lookup(ctx, "intro.wmv")
	if err != nil {
		t.Fatal(err)
	}
	if got := inodeOf(fresh.(*File)); got == first {
		t.Errorf("forgotten inode %d was issued again", got)
	}
	fresh.(*File).Forget()

	// Forgetting the root keeps it pinned at the root inode.
	root.Forget()
	if got := inodeOf(rootDir(t, f)); got != util.RootInode {
		t.Errorf("root inode after Forget = %d", got)
	}
}

func TestHandle_ReadCorrupt(t *testing.T) {
	f, img := newTestFS(t)
	ctx := context.Background()

	ext := img.Extents["media/intro.wmv"]
	n, _ := img.PayloadBlock(int64(ext.FirstPage)*gdfx.PageSize + 4096)
	if err := img.Corrupt(n, testimage.LevelData, 0); err != nil {
		t.Fatal(err)
	}

	file, err := f.vol.Open(ctx, "media/intro.wmv")
	if err != nil {
		t.Fatal(err)
	}
	h := &Handle{fs: f, file: file, path: "/media/intro.wmv"}
	err = h.Read(ctx, &fuse.ReadRequest{Offset: 4096, Size: 100}, &fuse.ReadResponse{})
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("read of corrupt block error = %v, want EIO", err)
	}
}

func TestErrno(t *testing.T) {
	f := New(nil, Options{})
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{gdfx.ErrNotFound, syscall.ENOENT},
		{gdfx.ErrNotADirectory, syscall.ENOTDIR},
		{gdfx.ErrNotAFile, syscall.EISDIR},
		{gdfx.ErrNotSupported, syscall.EROFS},
		{context.Canceled, syscall.EINTR},
		{gdfx.ErrInvalidDirectory, syscall.EIO},
		{&svod.HashMismatchError{Block: 3}, syscall.EIO},
		{os.ErrClosed, syscall.EIO},
	}
	for _, tt := range tests {
		if got := f.errno("test", "/x", tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStatfs(t *testing.T) {
	f, _ := newTestFS(t)
	resp := &fuse.StatfsResponse{}
	if err := f.Statfs(context.Background(), &fuse.StatfsRequest{}, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Bsize != gdfx.PageSize || resp.Blocks != f.vol.Pages() {
		t.Errorf("Statfs = %d blocks of %d bytes", resp.Blocks, resp.Bsize)
	}
}
