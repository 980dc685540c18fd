// Package testimage builds small SVOD containers for tests. It writes
// a GDFX disc image, splits it into hash-tree verified fragments and
// encodes the matching volume descriptor.
//
// The layout arithmetic here is written out independently of package
// svod so the two can be checked against each other.
package testimage

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	blockSize      = 4096
	pageSize       = 2048
	digestSize     = 20
	groupBlocks    = 204
	fragmentGroups = 203
	fragmentData   = groupBlocks * fragmentGroups
	fragmentPhys   = 1 + fragmentGroups*(groupBlocks+1)

	headerOffset     = 0x10000
	descriptorOffset = 0x379

	// Signature opens and closes the GDFX header.
	Signature = "MICROSOFT*XBOX*MEDIA"

	// HeaderName is the content header file written by Build; fragments
	// go into HeaderName + ".data".
	HeaderName = "ContentHeader"

	FlagDirectory = 0x10
	FlagSpecial   = 0x40
	flagArchive   = 0x20
)

// Level mirrors the hash tree tiers.
const (
	LevelData = iota
	LevelMid
	LevelTop
)

// File is one regular file of the disc. Parent directories are created
// from the slash separated Path.
type File struct {
	Path  string
	Data  []byte
	Flags byte
}

// Options controls the container layout.
type Options struct {
	Enhanced   bool
	StartBlock uint32
	// CacheCapacity is recorded in the descriptor. Zero means 8.
	CacheCapacity uint8
	// MinDataBlocks pads the payload with zero blocks. Padding is
	// written sparsely, so multi-fragment payloads stay cheap.
	MinDataBlocks uint32
	// EmptyDirs lists directories to create without children.
	EmptyDirs []string
	// DirFlags adds flags to the named directories.
	DirFlags map[string]byte
	Created   time.Time
}

// Extent records where a path landed on the disc.
type Extent struct {
	FirstPage uint32
	Size      uint32
	Flags     byte
}

// Image describes a container written to disk.
type Image struct {
	Dir        string
	HeaderPath string
	Fragments  []string
	Descriptor []byte
	RootDigest [digestSize]byte
	DataBlocks uint32
	DataStart  int64
	Extents    map[string]Extent
}

type node struct {
	name     string
	data     []byte
	flags    byte
	children []*node
	offsets  []int // per child, entry offset within the directory
	page     uint32
	size     uint32
}

func (n *node) dir() bool { return n.flags&FlagDirectory != 0 }

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Build writes a container holding files into dir.
func Build(dir string, files []File, opts Options) (*Image, error) {
	start := int64(opts.StartBlock) * blockSize
	if opts.Enhanced {
		start -= blockSize
	}
	if start > headerOffset {
		return nil, fmt.Errorf("data start 0x%x is past the GDFX header", start)
	}

	root := &node{flags: FlagDirectory}
	for _, p := range opts.EmptyDirs {
		if _, err := mkdirs(root, strings.Split(p, "/")); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		parts := strings.Split(f.Path, "/")
		parent, err := mkdirs(root, parts[:len(parts)-1])
		if err != nil {
			return nil, err
		}
		name := parts[len(parts)-1]
		if parent.child(name) != nil {
			return nil, fmt.Errorf("duplicate path %s", f.Path)
		}
		flags := f.Flags
		if flags == 0 {
			flags = flagArchive
		}
		parent.children = append(parent.children, &node{name: name, data: f.Data, flags: flags})
	}

	for p, flags := range opts.DirFlags {
		d, err := mkdirs(root, strings.Split(p, "/"))
		if err != nil {
			return nil, err
		}
		d.flags |= flags
	}

	layoutDirs(root)
	next := uint32(headerOffset/pageSize + 2)
	extents := map[string]Extent{}
	allocate(root, "", &next, extents)

	disc := make([]byte, int(next)*pageSize)
	hdr := disc[headerOffset:]
	copy(hdr, Signature)
	binary.LittleEndian.PutUint32(hdr[0x14:], root.page)
	binary.LittleEndian.PutUint32(hdr[0x18:], root.size)
	binary.LittleEndian.PutUint64(hdr[0x1C:], filetime(opts.Created))
	copy(hdr[0x7EC:], Signature)
	encode(root, disc)

	var payload []byte
	if start < 0 {
		payload = append(make([]byte, -start), disc...)
	} else {
		payload = disc[start:]
	}

	img, err := BuildPayload(dir, payload, opts)
	if err != nil {
		return nil, err
	}
	img.Extents = extents
	return img, nil
}

func mkdirs(root *node, parts []string) (*node, error) {
	n := root
	for _, p := range parts {
		if p == "" {
			continue
		}
		c := n.child(p)
		if c == nil {
			c = &node{name: p, flags: FlagDirectory}
			n.children = append(n.children, c)
		}
		if !c.dir() {
			return nil, fmt.Errorf("%s is a file", p)
		}
		n = c
	}
	return n, nil
}

// layoutDirs sorts each directory, places its entries as a balanced
// tree in pre-order and records the directory size.
func layoutDirs(n *node) {
	if !n.dir() {
		n.size = uint32(len(n.data))
		return
	}
	sort.Slice(n.children, func(i, j int) bool {
		return strings.ToUpper(n.children[i].name) < strings.ToUpper(n.children[j].name)
	})
	n.offsets = make([]int, len(n.children))
	end := 0
	var place func(lo, hi int)
	place = func(lo, hi int) {
		if lo >= hi {
			return
		}
		mid := (lo + hi) / 2
		size := entrySize(n.children[mid].name)
		if end/pageSize != (end+size-1)/pageSize {
			end = (end/pageSize + 1) * pageSize
		}
		n.offsets[mid] = end
		end += size
		place(lo, mid)
		place(mid+1, hi)
	}
	place(0, len(n.children))
	if end > 0 {
		n.size = uint32((end + pageSize - 1) / pageSize * pageSize)
	}
	for _, c := range n.children {
		layoutDirs(c)
	}
}

func entrySize(name string) int {
	return (14 + len(name) + 3) &^ 3
}

func allocate(n *node, path string, next *uint32, extents map[string]Extent) {
	if n.size > 0 {
		n.page = *next
		*next += (n.size + pageSize - 1) / pageSize
	}
	if path != "" {
		extents[path] = Extent{FirstPage: n.page, Size: n.size, Flags: n.flags}
	}
	for _, c := range n.children {
		allocate(c, strings.TrimPrefix(path+"/"+c.name, "/"), next, extents)
	}
}

func encode(n *node, disc []byte) {
	if !n.dir() {
		copy(disc[int(n.page)*pageSize:], n.data)
		return
	}
	if n.size == 0 {
		return
	}
	buf := disc[int(n.page)*pageSize : int(n.page)*pageSize+int(n.size)]
	for i := range buf {
		buf[i] = 0xFF
	}
	var write func(lo, hi int) int
	write = func(lo, hi int) int {
		if lo >= hi {
			return 0
		}
		mid := (lo + hi) / 2
		c := n.children[mid]
		off := n.offsets[mid]
		e := buf[off : off+entrySize(c.name)]
		left := write(lo, mid)
		right := write(mid+1, hi)
		binary.LittleEndian.PutUint16(e[0:], uint16(left>>2))
		binary.LittleEndian.PutUint16(e[2:], uint16(right>>2))
		binary.LittleEndian.PutUint32(e[4:], c.page)
		binary.LittleEndian.PutUint32(e[8:], c.size)
		e[12] = c.flags
		e[13] = byte(len(c.name))
		copy(e[14:], c.name)
		return off
	}
	write(0, len(n.children))
	for _, c := range n.children {
		encode(c, disc)
	}
}

func filetime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	const epochDelta = 116444736000000000
	return uint64(t.UnixNano()/100) + epochDelta
}

// BuildPayload writes payload, padded to whole blocks, as a hash-tree
// verified container in dir.
func BuildPayload(dir string, payload []byte, opts Options) (*Image, error) {
	blocks := uint32((len(payload) + blockSize - 1) / blockSize)
	blocks = max(blocks, opts.MinDataBlocks, 1)

	fragDir := filepath.Join(dir, HeaderName+".data")
	if err := os.MkdirAll(fragDir, 0o755); err != nil {
		return nil, err
	}

	frags := int((blocks-1)/fragmentData) + 1
	img := &Image{
		Dir:        dir,
		HeaderPath: filepath.Join(dir, HeaderName),
		Fragments:  make([]string, frags),
		DataBlocks: blocks,
	}
	img.DataStart = int64(opts.StartBlock) * blockSize
	if opts.Enhanced {
		img.DataStart -= blockSize
	}

	zero := sha1.Sum(make([]byte, blockSize))
	var next [digestSize]byte
	for f := frags - 1; f >= 0; f-- {
		path := filepath.Join(fragDir, fmt.Sprintf("Data%04d", f))
		img.Fragments[f] = path
		first := uint32(f) * fragmentData
		count := min(blocks-first, fragmentData)
		top, err := writeFragment(path, payload, first, count, next, f < frags-1, zero)
		if err != nil {
			return nil, err
		}
		next = top
	}
	img.RootDigest = next

	desc := make([]byte, 0x24)
	desc[0] = 0x24
	desc[1] = opts.CacheCapacity
	if desc[1] == 0 {
		desc[1] = 8
	}
	if opts.Enhanced {
		desc[2] = 0x40
	}
	if opts.StartBlock != 0 {
		binary.LittleEndian.PutUint32(desc[4:], 1<<6)
	}
	binary.LittleEndian.PutUint32(desc[8:], opts.StartBlock)
	binary.LittleEndian.PutUint32(desc[12:], blocks)
	copy(desc[16:], img.RootDigest[:])
	img.Descriptor = desc

	header := make([]byte, 0x400)
	copy(header[descriptorOffset:], desc)
	if err := os.WriteFile(img.HeaderPath, header, 0o644); err != nil {
		return nil, err
	}
	return img, nil
}

// writeFragment writes one fragment and returns the digest of its top
// hash block.
func writeFragment(path string, payload []byte, first, count uint32, next [digestSize]byte, chained bool, zero [digestSize]byte) ([digestSize]byte, error) {
	f, err := os.Create(path)
	if err != nil {
		return [digestSize]byte{}, err
	}
	defer f.Close()

	top := make([]byte, blockSize)
	groups := (count + groupBlocks - 1) / groupBlocks
	for g := uint32(0); g < groups; g++ {
		mid := make([]byte, blockSize)
		midPhys := int64(1 + g*(groupBlocks+1))
		for k := uint32(0); k < groupBlocks && g*groupBlocks+k < count; k++ {
			data := dataBlock(payload, first+g*groupBlocks+k)
			if data == nil {
				copy(mid[k*digestSize:], zero[:])
				continue
			}
			sum := sha1.Sum(data)
			copy(mid[k*digestSize:], sum[:])
			if _, err := f.WriteAt(data, (midPhys+1+int64(k))*blockSize); err != nil {
				return [digestSize]byte{}, err
			}
		}
		if _, err := f.WriteAt(mid, midPhys*blockSize); err != nil {
			return [digestSize]byte{}, err
		}
		sum := sha1.Sum(mid)
		copy(top[g*digestSize:], sum[:])
	}
	if chained {
		copy(top[fragmentGroups*digestSize:], next[:])
	}
	if _, err := f.WriteAt(top, 0); err != nil {
		return [digestSize]byte{}, err
	}

	last := groups - 1
	phys := int64(1+last*(groupBlocks+1)) + 1 + int64(count-last*groupBlocks)
	if chained {
		phys = fragmentPhys
	}
	if err := f.Truncate(phys * blockSize); err != nil {
		return [digestSize]byte{}, err
	}
	return sha1.Sum(top), f.Close()
}

// dataBlock returns block n of payload, or nil if it is all zeros.
func dataBlock(payload []byte, n uint32) []byte {
	off := int(n) * blockSize
	if off >= len(payload) {
		return nil
	}
	src := payload[off:min(off+blockSize, len(payload))]
	for _, c := range src {
		if c != 0 {
			b := make([]byte, blockSize)
			copy(b, src)
			return b
		}
	}
	return nil
}

// Address returns the fragment and byte offset of block n at level.
func Address(n uint32, level int) (int, int64) {
	f := int(n / fragmentData)
	local := n % fragmentData
	var phys int64
	switch level {
	case LevelData:
		phys = int64(1 + (local/groupBlocks)*(groupBlocks+1) + 1 + local%groupBlocks)
	case LevelMid:
		phys = int64(1 + (local/groupBlocks)*(groupBlocks+1))
	}
	return f, phys * blockSize
}

// Corrupt flips one byte of block n at level.
func (img *Image) Corrupt(n uint32, level int, at int) error {
	if at < 0 || at >= blockSize {
		return errors.New("corrupt offset outside block")
	}
	f, off := Address(n, level)
	file, err := os.OpenFile(img.Fragments[f], os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer file.Close()
	b := make([]byte, 1)
	if _, err := file.ReadAt(b, off+int64(at)); err != nil {
		return err
	}
	b[0] ^= 0xFF
	if _, err := file.WriteAt(b, off+int64(at)); err != nil {
		return err
	}
	return file.Close()
}

// PayloadBlock returns the data block and in-block offset holding disc
// offset off.
func (img *Image) PayloadBlock(off int64) (uint32, int) {
	q := off - img.DataStart
	return uint32(q / blockSize), int(q % blockSize)
}
