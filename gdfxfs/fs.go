package gdfxfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/svodfs/gdfx"
	"github.com/dendrascience/svodfs/util"
)

// Options configures an FS.
type Options struct {
	// Logger receives read failures. If nil, errors are logged to stderr.
	Logger *slog.Logger
	Uid    uint32
	Gid    uint32
}

// FS serves a mounted GDFX volume over FUSE, read-only.
type FS struct {
	vol    *gdfx.Volume
	inodes *util.InodeTable
	opts   Options
}

var (
	_ fs.FS         = (*FS)(nil)
	_ fs.FSStatfser = (*FS)(nil)
)

// New returns an FS backed by vol.
func New(vol *gdfx.Volume, opts Options) *FS {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	return &FS{
		vol:    vol,
		inodes: util.NewInodeTable(),
		opts:   opts,
	}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, fcb: f.vol.Root(), path: "/", inode: util.RootInode}, nil
}

// Statfs reports the disc size in pages.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	resp.Blocks = f.vol.Pages()
	resp.Bsize = gdfx.PageSize
	resp.Frsize = gdfx.PageSize
	resp.Files = uint64(f.vol.FCBs())
	resp.Namelen = 255
	return nil
}

func (f *FS) attr(a *fuse.Attr, inode uint64, fcb *gdfx.FCB) {
	a.Inode = inode
	a.Size = uint64(fcb.Size)
	a.Blocks = (a.Size + 511) / 512
	a.BlockSize = gdfx.PageSize
	a.Mtime = f.vol.Created()
	a.Ctime = a.Mtime
	a.Atime = a.Mtime
	a.Uid = f.opts.Uid
	a.Gid = f.opts.Gid
	if fcb.IsDir() {
		a.Mode = os.ModeDir | 0o555
		a.Nlink = 2
	} else {
		a.Mode = 0o444
		a.Nlink = 1
	}
}

// errno maps volume errors onto the codes a FUSE caller expects.
func (f *FS) errno(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gdfx.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, gdfx.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, gdfx.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, gdfx.ErrNotSupported):
		return syscall.EROFS
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	}
	f.opts.Logger.Error(op+" failed", "path", p, "error", err)
	return syscall.EIO
}

// Dir is a directory node.
type Dir struct {
	fs    *FS
	fcb   *gdfx.FCB
	path  string
	inode uint64
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeForgetter      = (*Dir)(nil)
)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	d.fs.attr(a, d.inode, d.fcb)
	return nil
}

// Lookup resolves name within the directory. The child node holds a
// reference on its FCB until the kernel forgets it.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if d.fcb.Size == 0 {
		return nil, syscall.ENOENT
	}
	child, err := d.fs.vol.ResolveChild(ctx, d.fcb, name)
	if err != nil {
		return nil, d.fs.errno("lookup", path.Join(d.path, name), err)
	}
	p := path.Join(d.path, child.Name)
	ino := d.fs.inodes.Get(p)
	if child.IsDir() {
		return &Dir{fs: d.fs, fcb: child, path: p, inode: ino}, nil
	}
	return &File{fs: d.fs, fcb: child, path: p, inode: ino}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.vol.ReadDir(ctx, d.fcb)
	if err != nil {
		return nil, d.fs.errno("readdir", d.path, err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		typ := fuse.DT_File
		if e.IsDir() {
			typ = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{
			Inode: d.fs.inodes.Get(path.Join(d.path, e.Name)),
			Type:  typ,
			Name:  e.Name,
		})
	}
	return dirents, nil
}

// Forget drops the node's FCB reference and its inode mapping. A later
// lookup of the same path is issued a fresh inode.
func (d *Dir) Forget() {
	d.fs.vol.Release(d.fcb)
	d.fs.inodes.Forget(d.inode)
}

// File is a regular file node.
type File struct {
	fs    *FS
	fcb   *gdfx.FCB
	path  string
	inode uint64
}

var (
	_ fs.Node          = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
	_ fs.NodeForgetter = (*File)(nil)
)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	f.fs.attr(a, f.inode, f.fcb)
	return nil
}

// Open returns a handle with its own position. Opening for write fails
// with EROFS.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, syscall.EROFS
	}
	resp.Flags |= fuse.OpenKeepCache
	return &Handle{fs: f.fs, file: f.fs.vol.OpenFCB(f.fcb), path: f.path}, nil
}

func (f *File) Forget() {
	f.fs.vol.Release(f.fcb)
	f.fs.inodes.Forget(f.inode)
}

// Handle is an open file.
type Handle struct {
	fs   *FS
	file *gdfx.File
	path string
}

var (
	_ fs.HandleReader   = (*Handle)(nil)
	_ fs.HandleReleaser = (*Handle)(nil)
)

func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.file.ReadAtContext(ctx, buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return h.fs.errno("read", h.path, err)
	}
	resp.Data = buf[:n]
	return nil
}

func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if err := h.file.Close(); err != nil && !errors.Is(err, gdfx.ErrClosed) {
		return h.fs.errno("release", h.path, err)
	}
	return nil
}
