package svod

import (
	"crypto/sha1"
	"fmt"
)

// Level identifies a tier of the hash tree.
type Level uint8

const (
	LevelData    Level = iota // 4096-byte payload block
	LevelMidHash              // digests of one group of data blocks
	LevelTopHash              // digests of one fragment's mid hash blocks
)

func (l Level) String() string {
	switch l {
	case LevelData:
		return "data"
	case LevelMidHash:
		return "mid-hash"
	case LevelTopHash:
		return "top-hash"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

const (
	// BlockSize is the unit of the hash-verified block store.
	BlockSize = 0x1000
	// PageSize is the sector size of the emulated disc.
	PageSize = 0x800
	// DigestSize is the size of one hash entry.
	DigestSize = sha1.Size

	// BlocksPerGroup is the number of data blocks covered by one mid hash block.
	BlocksPerGroup = 204
	// GroupsPerFragment is the number of mid hash blocks covered by one top hash block.
	GroupsPerFragment = 203
	// BlocksPerFragment is the number of data blocks stored in one fragment.
	BlocksPerFragment = BlocksPerGroup * GroupsPerFragment

	groupStride = BlocksPerGroup + 1

	// FragmentBlocks is the physical size of a full fragment in blocks:
	// one top hash block followed by GroupsPerFragment groups of a mid
	// hash block and its data blocks.
	FragmentBlocks = 1 + GroupsPerFragment*groupStride

	// FragmentSize is the byte length of every fragment but the last.
	FragmentSize = FragmentBlocks * BlockSize

	// nextDigestOffset locates, inside a top hash block, the digest of
	// the following fragment's top hash block.
	nextDigestOffset = GroupsPerFragment * DigestSize
)

// PhysicalBlock returns the index of the block holding logical data
// block n at the given level, counted linearly across all fragments.
func PhysicalBlock(n uint32, level Level) uint64 {
	b := uint64(n)
	switch level {
	case LevelData:
		return b/BlocksPerGroup + b/BlocksPerFragment + b + 2
	case LevelMidHash:
		return (b/BlocksPerGroup)*groupStride + b/BlocksPerFragment + 1
	default:
		return (b / BlocksPerFragment) * FragmentBlocks
	}
}

// BlockAddress returns the fragment index and the byte offset inside
// that fragment of the block holding n at the given level.
func BlockAddress(n uint32, level Level) (fragment int, offset int64) {
	p := PhysicalBlock(n, level)
	return int(p / FragmentBlocks), int64(p%FragmentBlocks) * BlockSize
}

// LogicalBlock inverts BlockAddress for a block-aligned fragment offset.
// The returned block number is the first data block covered when the
// block is a hash block.
func LogicalBlock(fragment int, offset int64) (uint32, Level, error) {
	if fragment < 0 || offset < 0 || offset%BlockSize != 0 || offset >= FragmentSize {
		return 0, 0, fmt.Errorf("%w: fragment %d offset %d", ErrInvalidBlockOffset, fragment, offset)
	}
	base := uint32(fragment) * BlocksPerFragment
	local := offset / BlockSize
	if local == 0 {
		return base, LevelTopHash, nil
	}
	group := uint32((local - 1) / groupStride)
	slot := uint32((local - 1) % groupStride)
	if slot == 0 {
		return base + group*BlocksPerGroup, LevelMidHash, nil
	}
	return base + group*BlocksPerGroup + slot - 1, LevelData, nil
}

// groupKey rounds n down to the first data block covered by its
// ancestor at the given level. Cache slots are keyed on it.
func groupKey(n uint32, level Level) uint32 {
	switch level {
	case LevelMidHash:
		return n - n%BlocksPerGroup
	case LevelTopHash:
		return n - n%BlocksPerFragment
	}
	return n
}

// digestOffset returns where the digest of n's block at the given
// level is stored inside its parent hash block.
func digestOffset(n uint32, level Level) int {
	switch level {
	case LevelData:
		return int(n%BlocksPerGroup) * DigestSize
	case LevelMidHash:
		return int(n%BlocksPerFragment/BlocksPerGroup) * DigestSize
	}
	return nextDigestOffset
}

func fragmentOf(n uint32) int {
	return int(n / BlocksPerFragment)
}
