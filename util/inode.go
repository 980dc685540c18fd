package util

import (
	"sync"
)

// RootInode is reserved for the root directory of a mount.
const RootInode uint64 = 1

// InodeTable hands out inode numbers and remembers which path each one
// was issued for. Asking again for a known path returns the same inode,
// so directory listings and lookups agree.
type InodeTable struct {
	mu      sync.Mutex
	highest uint64
	byPath  map[string]uint64
	byInode map[uint64]string
}

func NewInodeTable() *InodeTable {
	return &InodeTable{
		highest: RootInode,
		byPath:  map[string]uint64{"/": RootInode},
		byInode: map[uint64]string{RootInode: "/"},
	}
}

// Get returns the inode for path, issuing one on first use.
func (t *InodeTable) Get(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.byPath[path]; ok {
		return ino
	}
	t.highest++
	t.byPath[path] = t.highest
	t.byInode[t.highest] = path
	return t.highest
}

// Forget drops the path mapping of inode. The number is not reused.
func (t *InodeTable) Forget(inode uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byInode[inode]; ok && inode != RootInode {
		delete(t.byInode, inode)
		delete(t.byPath, p)
	}
}
