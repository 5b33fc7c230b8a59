package codec

import (
	"errors"
	"fmt"
)

// MPEG-4 descriptor tags (ISO/IEC 14496-1).
const (
	esDescrTag         = 0x03
	decoderConfigTag   = 0x04
	decSpecificInfoTag = 0x05
)

// ErrInvalidDescriptor is returned for malformed esds descriptor data.
var ErrInvalidDescriptor = errors.New("invalid esds descriptor")

// ESDSInfo is the decoder configuration extracted from an esds box.
type ESDSInfo struct {
	ObjectTypeID uint8

	// DecSpecificInfo is the codec-specific configuration, e.g. the
	// MPEG-4 AudioSpecificConfig for AAC.
	DecSpecificInfo []byte
}

// ParseESDS walks the descriptor chain of an esds payload (after the
// 4-byte version and flags) down to the DecSpecificInfo.
func ParseESDS(data []byte) (*ESDSInfo, error) {
	pos := 0

	tag, end, err := readDescriptor(data, &pos)
	if err != nil {
		return nil, err
	}
	if tag != esDescrTag {
		return nil, fmt.Errorf("%w: expected ES descriptor, got tag %#x", ErrInvalidDescriptor, tag)
	}

	// ES_ID and stream dependence flags.
	if pos+3 > end || pos+3 > len(data) {
		return nil, fmt.Errorf("%w: truncated ES descriptor", ErrInvalidDescriptor)
	}
	flags := data[pos+2]
	pos += 3
	if flags&0x80 != 0 { // dependsOn_ES_ID
		pos += 2
	}
	if flags&0x40 != 0 { // URL
		if pos >= end {
			return nil, fmt.Errorf("%w: truncated URL descriptor", ErrInvalidDescriptor)
		}
		pos += 1 + int(data[pos])
	}
	if flags&0x20 != 0 { // OCR_ES_ID
		pos += 2
	}

	tag, _, err = readDescriptor(data, &pos)
	if err != nil {
		return nil, err
	}
	if tag != decoderConfigTag {
		return nil, fmt.Errorf("%w: expected DecoderConfig, got tag %#x", ErrInvalidDescriptor, tag)
	}
	if pos+13 > len(data) {
		return nil, fmt.Errorf("%w: truncated DecoderConfig", ErrInvalidDescriptor)
	}

	info := &ESDSInfo{ObjectTypeID: data[pos]}
	pos += 13 // objectType(1) + streamType(1) + bufferSize(3) + maxBitrate(4) + avgBitrate(4)

	if pos >= len(data) {
		return info, nil // no DecSpecificInfo
	}
	tag, end, err = readDescriptor(data, &pos)
	if err != nil || tag != decSpecificInfoTag {
		return info, nil
	}
	if end > len(data) {
		end = len(data)
	}
	info.DecSpecificInfo = data[pos:end]
	return info, nil
}

// readDescriptor reads a descriptor tag and its expandable length.
// The length uses 7 bits per byte with a continuation bit.
func readDescriptor(data []byte, pos *int) (tag uint8, end int, err error) {
	if *pos >= len(data) {
		return 0, 0, fmt.Errorf("%w: truncated tag", ErrInvalidDescriptor)
	}
	tag = data[*pos]
	*pos++

	size := 0
	for i := 0; ; i++ {
		if *pos >= len(data) || i > 3 {
			return 0, 0, fmt.Errorf("%w: truncated descriptor length", ErrInvalidDescriptor)
		}
		b := data[*pos]
		*pos++
		size = size<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return tag, *pos + size, nil
}
