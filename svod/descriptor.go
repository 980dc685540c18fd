package svod

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// DescriptorSize is the encoded length of a volume descriptor and
	// the value its length field must carry.
	DescriptorSize = 0x24

	// HeaderDescriptorOffset is where a content header file stores the
	// volume descriptor.
	HeaderDescriptorOffset = 0x379

	// FeatureEnhancedLayout selects the enhanced layout, in which the
	// payload begins one block before the start data block.
	FeatureEnhancedLayout = 0x40
	featureReservedMask   = 0x3F

	// FlagExplicitStartBlock makes StartDataBlock significant.
	FlagExplicitStartBlock = 1 << 6
	// FlagExtraBlock adds one block to the data block count.
	FlagExtraBlock = 1 << 26
)

// Descriptor is the volume descriptor recorded in the content header.
type Descriptor struct {
	CacheElementCount uint8
	Features          uint8
	FeatureFlags      uint32
	StartDataBlock    uint32
	DataBlockCount    uint32
	RootDigest        [DigestSize]byte
}

// ParseDescriptor decodes and validates an encoded descriptor.
func ParseDescriptor(b []byte) (*Descriptor, error) {
	if len(b) < DescriptorSize {
		return nil, fmt.Errorf("%w: descriptor is %d bytes", ErrVersionMismatch, len(b))
	}
	if b[0] != DescriptorSize {
		return nil, fmt.Errorf("%w: descriptor length 0x%02x", ErrVersionMismatch, b[0])
	}
	d := &Descriptor{
		CacheElementCount: b[1],
		Features:          b[2],
		FeatureFlags:      binary.LittleEndian.Uint32(b[4:8]),
		StartDataBlock:    binary.LittleEndian.Uint32(b[8:12]),
		DataBlockCount:    binary.LittleEndian.Uint32(b[12:16]),
	}
	copy(d.RootDigest[:], b[16:16+DigestSize])
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadDescriptor reads the descriptor stored at off in r.
func ReadDescriptor(r io.ReaderAt, off int64) (*Descriptor, error) {
	b := make([]byte, DescriptorSize)
	if _, err := r.ReadAt(b, off); err != nil {
		return nil, fmt.Errorf("reading volume descriptor at 0x%x: %w", off, err)
	}
	return ParseDescriptor(b)
}

// Validate checks the fields that a mount depends on.
func (d *Descriptor) Validate() error {
	if d.CacheElementCount == 0 {
		return fmt.Errorf("%w: cache element count is zero", ErrVersionMismatch)
	}
	if d.Features&featureReservedMask != 0 {
		return fmt.Errorf("%w: reserved feature bits 0x%02x", ErrVersionMismatch, d.Features&featureReservedMask)
	}
	if d.DataBlocks() == 0 {
		return fmt.Errorf("%w: no data blocks", ErrVersionMismatch)
	}
	return nil
}

// MarshalBinary encodes the descriptor in its on-disk layout.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	b := make([]byte, DescriptorSize)
	b[0] = DescriptorSize
	b[1] = d.CacheElementCount
	b[2] = d.Features
	binary.LittleEndian.PutUint32(b[4:8], d.FeatureFlags)
	binary.LittleEndian.PutUint32(b[8:12], d.StartDataBlock)
	binary.LittleEndian.PutUint32(b[12:16], d.DataBlockCount)
	copy(b[16:], d.RootDigest[:])
	return b, nil
}

func (d *Descriptor) Enhanced() bool {
	return d.Features&FeatureEnhancedLayout != 0
}

// StartBlock returns the first payload block, honoring FlagExplicitStartBlock.
func (d *Descriptor) StartBlock() uint32 {
	if d.FeatureFlags&FlagExplicitStartBlock == 0 {
		return 0
	}
	return d.StartDataBlock
}

// DataBlocks returns the number of 4096-byte payload blocks.
func (d *Descriptor) DataBlocks() uint32 {
	if d.FeatureFlags&FlagExtraBlock != 0 {
		return d.DataBlockCount + 1
	}
	return d.DataBlockCount
}

// DataStart returns the disc offset of payload byte zero. It is
// negative for an enhanced layout starting at block zero; the leading
// payload bytes are then not addressable from the disc.
func (d *Descriptor) DataStart() int64 {
	start := int64(d.StartBlock()) * BlockSize
	if d.Enhanced() {
		start -= BlockSize
	}
	return start
}

// Fragments returns how many fragments the payload spans.
func (d *Descriptor) Fragments() int {
	return fragmentOf(d.DataBlocks()-1) + 1
}
