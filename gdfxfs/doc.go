// Package gdfxfs exposes a mounted GDFX volume as a read-only FUSE file
// system using bazil.org/fuse.
//
// Directory and file nodes hold a reference on their FCB from lookup
// until the kernel forgets them. Each open handle keeps its own
// position. Integrity failures surface to readers as EIO.
package gdfxfs
