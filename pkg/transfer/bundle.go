package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const BundleHeaderSize = 16

var BundleMagic = [4]byte{'L', 'M', 'W', 'B'}

var (
	ErrBadMagic       = errors.New("bundle magic mismatch")
	ErrEmptySection   = errors.New("bundle section size is zero")
	ErrBundleTooShort = errors.New("bundle shorter than its header")
)

// BundleHeader is the preamble of a combined application and filesystem image.
type BundleHeader struct {
	AppSize uint32
	FSSize  uint32
}

// Total is the full stream length the header implies.
func (h BundleHeader) Total() int64 {
	return BundleHeaderSize + int64(h.AppSize) + int64(h.FSSize)
}

// ParseBundleHeader decodes and validates a 16-byte header.
func ParseBundleHeader(raw []byte) (BundleHeader, error) {
	if len(raw) < BundleHeaderSize {
		return BundleHeader{}, fmt.Errorf("%w: %d bytes", ErrBundleTooShort, len(raw))
	}
	if !bytes.Equal(raw[:4], BundleMagic[:]) {
		return BundleHeader{}, fmt.Errorf("%w: got %q", ErrBadMagic, raw[:4])
	}
	h := BundleHeader{
		AppSize: binary.LittleEndian.Uint32(raw[4:8]),
		FSSize:  binary.LittleEndian.Uint32(raw[8:12]),
	}
	if h.AppSize == 0 || h.FSSize == 0 {
		return h, fmt.Errorf("%w: app=%d fs=%d", ErrEmptySection, h.AppSize, h.FSSize)
	}
	return h, nil
}

// EncodeBundleHeader is the inverse of ParseBundleHeader.
func EncodeBundleHeader(h BundleHeader) []byte {
	raw := make([]byte, BundleHeaderSize)
	copy(raw, BundleMagic[:])
	binary.LittleEndian.PutUint32(raw[4:8], h.AppSize)
	binary.LittleEndian.PutUint32(raw[8:12], h.FSSize)
	return raw
}
