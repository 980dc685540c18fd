package gdfx

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// PageSize is the only sector size a GDFX volume may use.
	PageSize = 0x800

	// HeaderOffset is the disc offset of the volume header block.
	HeaderOffset = 0x10000
	// HeaderSize is the length of the header block.
	HeaderSize = 0x1000

	// Signature marks the start and the end of the header.
	Signature = "MICROSOFT*XBOX*MEDIA"

	mirrorOffset = 0x7EC

	// filetimeEpoch is 1970-01-01 in 100ns ticks since 1601-01-01.
	filetimeEpoch = 116444736000000000
)

// Header is the decoded volume header.
type Header struct {
	RootBlock uint32
	RootSize  uint32
	Created   time.Time
}

// ParseHeader decodes a header block.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < mirrorOffset+len(Signature) {
		return nil, fmt.Errorf("%w: header is %d bytes", ErrSignatureMismatch, len(b))
	}
	if string(b[:len(Signature)]) != Signature {
		return nil, fmt.Errorf("%w: at 0x0", ErrSignatureMismatch)
	}
	if string(b[mirrorOffset:mirrorOffset+len(Signature)]) != Signature {
		return nil, fmt.Errorf("%w: at 0x%x", ErrSignatureMismatch, mirrorOffset)
	}
	h := &Header{
		RootBlock: binary.LittleEndian.Uint32(b[0x14:]),
		RootSize:  binary.LittleEndian.Uint32(b[0x18:]),
	}
	if ft := binary.LittleEndian.Uint64(b[0x1C:]); ft > filetimeEpoch {
		h.Created = time.Unix(0, int64(ft-filetimeEpoch)*100).UTC()
	}
	return h, nil
}
