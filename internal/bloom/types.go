package bloom

import "errors"

const (
	// ValueBytes is the fixed element width: a SHA-256 payload_hash.
	ValueBytes = 32

	// HeaderBytesV1 is the fixed header size for HeaderV1.
	HeaderBytesV1 = 32

	MagicV1 = "RPF1"
	VersionV1 uint8 = 1

	// BitOrderLSB0 means bit 0 is the least-significant bit of byte 0.
	BitOrderLSB0 uint8 = 0
)

var (
	ErrBadElemSize = errors.New("bloom: element must be 32 bytes")
	ErrBadRegionSize = errors.New("bloom: region buffer too small")
	ErrNotInitialized = errors.New("bloom: header not initialized")

	ErrBadMagic = errors.New("bloom: header magic invalid")
	ErrBadVersion = errors.New("bloom: header version invalid")
	ErrBadBitOrder = errors.New("bloom: header bitOrder unsupported")
	ErrBadK = errors.New("bloom: header k invalid")
	ErrBadMBits = errors.New("bloom: header mBits invalid")

	ErrMBitsOverflow = errors.New("bloom: mBits overflows supported range")
	ErrSizeOverflow = errors.New("bloom: size computation overflow")
)

// HeaderV1 describes a single Bloom region: bit ordering, hash-function
// count, bitset width, and a best-effort insertion counter. Unlike the
// 4-way massif-index layout this is adapted from, a replay filter only ever
// needs one region per device, so there is no filter-index concept here.
type HeaderV1 struct {
	BitOrder uint8
	K uint8
	MBits uint32
	NInserted uint32
}
