package demux

import (
	"errors"

	"mp4demux/pkg/bmff"
)

// Errors. Fatal parse failures abort Init; the rest are wrapped with
// context where they occur. ErrCorruptData is shared with the box
// layer so callers match one sentinel for all truncation failures.
var (
	ErrInvalidFileFormat  = errors.New("invalid file format")
	ErrCorruptData        = bmff.ErrCorruptData
	ErrInvalidBoxSize     = bmff.ErrInvalidBoxSize
	ErrMissingRequiredBox = errors.New("missing required box")
	ErrInvalidSampleTable = errors.New("invalid sample table")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
	ErrSeek               = errors.New("seek failed")
	ErrSampleNotFound     = errors.New("sample not found")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrNotInitialized     = errors.New("demuxer not initialized")
)

// Warning sentinels. Warnings are non-fatal deviations accumulated
// during Init and retrievable with Warnings().
var (
	ErrUnknownCodec = errors.New("unknown codec")
)
