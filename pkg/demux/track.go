package demux

import (
	"fmt"

	"mp4demux/pkg/bmff"
	"mp4demux/pkg/codec"
)

// Kind distinguishes video and audio streams.
type Kind int

// Stream kinds.
const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Stream describes one demuxed track.
type Stream struct {
	ID          uint32
	Kind        Kind
	CodecFourCC string
	Codec       string // canonical codec string
	TimeScale   uint32
	Duration    uint64 // in stream-time ticks

	// ExtraData is the sample-description residue carried verbatim for
	// the downstream decoder (e.g. the avcC or esds box).
	ExtraData []byte

	// Video.
	Width        uint32
	Height       uint32
	FrameRate    float64 // zero unless the stts deltas are constant
	AvgFrameRate float64

	// Audio.
	SampleRate   float64
	ChannelCount uint16
	BitDepth     uint16

	BitRate    uint32
	AvgBitRate uint32
}

// DurationUs returns the stream duration in microseconds.
func (s *Stream) DurationUs() int64 {
	return ticksToMicros(int64(s.Duration), s.TimeScale)
}

var (
	handlerVide = bmff.Str("vide")
	handlerSoun = bmff.Str("soun")
)

// parseStream decodes one trak into a stream descriptor, or nil for
// track kinds the demuxer does not handle (hint, subtitle, metadata).
func parseStream(trak *bmff.Box, id uint32, warn func(error)) (*Stream, error) {
	mdia := bmff.FindPath(trak.Children, bmff.TypeMdia)
	if mdia == nil {
		return nil, fmt.Errorf("%w: trak/mdia", ErrMissingRequiredBox)
	}

	mdhd := bmff.FindPath(mdia.Children, bmff.TypeMdhd)
	if mdhd == nil {
		return nil, fmt.Errorf("%w: trak/mdia/mdhd", ErrMissingRequiredBox)
	}
	timeScale, duration, err := parseMdhd(mdhd.Payload)
	if err != nil {
		return nil, fmt.Errorf("parse mdhd: %w", err)
	}

	hdlr := bmff.FindPath(mdia.Children, bmff.TypeHdlr)
	if hdlr == nil {
		return nil, fmt.Errorf("%w: trak/mdia/hdlr", ErrMissingRequiredBox)
	}
	var kind Kind
	switch parseHdlr(hdlr.Payload) {
	case handlerVide:
		kind = KindVideo
	case handlerSoun:
		kind = KindAudio
	default:
		return nil, nil // not a media track
	}

	stsd := bmff.FindPath(mdia.Children, bmff.TypeMinf, bmff.TypeStbl, bmff.TypeStsd)
	if stsd == nil {
		return nil, fmt.Errorf("%w: trak/mdia/minf/stbl/stsd", ErrMissingRequiredBox)
	}

	stream := &Stream{
		ID:        id,
		Kind:      kind,
		TimeScale: timeScale,
		Duration:  duration,
	}
	if err := parseStsd(stsd.Payload, stream); err != nil {
		return nil, fmt.Errorf("parse stsd: %w", err)
	}

	mapCodec(stream, warn)
	return stream, nil
}

// parseMdhd reads the media time scale and duration, v0 or v1.
func parseMdhd(payload []byte) (timeScale uint32, duration uint64, err error) {
	r := bmff.NewReader(payload)
	version := r.Uint8()
	r.Uint24() // flags

	if version == 1 {
		r.Skip(16) // creation and modification time
		timeScale = r.Uint32()
		duration = r.Uint64()
	} else {
		r.Skip(8)
		timeScale = r.Uint32()
		duration = uint64(r.Uint32())
	}
	return timeScale, duration, r.Err()
}

// parseHdlr returns the 4-byte component subtype.
func parseHdlr(payload []byte) bmff.BoxType {
	r := bmff.NewReader(payload)
	r.Skip(8) // version, flags, predefined
	return r.FourCC()
}

// parseStsd decodes the first sample-description entry.
func parseStsd(payload []byte, stream *Stream) error {
	r := bmff.NewReader(payload)
	r.Uint32() // version and flags
	entryCount := r.Uint32()
	if err := r.Err(); err != nil {
		return err
	}
	if entryCount == 0 {
		return fmt.Errorf("%w: stsd holds no entries", ErrInvalidSampleTable)
	}

	entrySize := r.Uint32()
	fourcc := r.FourCC()
	if err := r.Err(); err != nil {
		return err
	}
	if uint64(entrySize) < 16 || int(entrySize) > len(payload)-8 {
		return fmt.Errorf("%w: stsd entry size %d", ErrInvalidBoxSize, entrySize)
	}
	stream.CodecFourCC = fourcc.String()

	entry := r.SubReader(int(entrySize) - 8)
	entry.Skip(6) // reserved
	entry.Uint16() // data reference index

	if stream.Kind == KindVideo {
		return parseVideoEntry(entry, stream)
	}
	return parseAudioEntry(entry, stream)
}

// parseVideoEntry decodes the fixed VisualSampleEntry fields; the
// remaining bytes become the stream extra-data.
func parseVideoEntry(r *bmff.Reader, stream *Stream) error {
	r.Skip(16) // predefined and reserved
	stream.Width = uint32(r.Uint16())
	stream.Height = uint32(r.Uint16())
	r.Skip(14) // resolution, reserved, frame count

	// Pascal-length compressor name padded to 32 bytes.
	r.Skip(32)
	r.Uint16() // depth
	r.Int16()  // predefined, -1
	if err := r.Err(); err != nil {
		return err
	}

	stream.ExtraData = r.Bytes(r.Remaining())
	return nil
}

// parseAudioEntry decodes the fixed AudioSampleEntry fields, honouring
// the QuickTime v1 sound description extension.
func parseAudioEntry(r *bmff.Reader, stream *Stream) error {
	version := r.Uint16()
	r.Skip(6) // revision, vendor

	stream.ChannelCount = r.Uint16()
	stream.BitDepth = r.Uint16()
	r.Int16()  // compression id
	r.Uint16() // packet size
	stream.SampleRate = r.UFixed1616()
	if err := r.Err(); err != nil {
		return err
	}

	if version == 1 && r.Remaining() >= 16 {
		r.Skip(16) // samples/packet, bytes/packet, bytes/frame, bytes/sample
	}

	stream.ExtraData = r.Bytes(r.Remaining())
	return nil
}

// mapCodec fills the canonical codec string and refines audio
// parameters from the esds configuration when one is present.
func mapCodec(stream *Stream, warn func(error)) {
	var canonical string
	var known bool
	if stream.Kind == KindVideo {
		canonical, known = codec.Video(stream.CodecFourCC)
	} else {
		canonical, known = codec.Audio(stream.CodecFourCC)
	}
	if !known {
		// Pass the raw fourcc through so the caller can still try a
		// platform decoder.
		canonical = stream.CodecFourCC
		warn(fmt.Errorf("%w: %q", ErrUnknownCodec, stream.CodecFourCC))
	}
	stream.Codec = canonical

	if stream.Kind == KindAudio {
		refineFromESDS(stream)
	}
}

// refineFromESDS decodes the AudioSpecificConfig inside an esds
// extension. Best effort: the stsd fields win when this fails.
func refineFromESDS(stream *Stream) {
	if len(stream.ExtraData) == 0 {
		return
	}
	esds := bmff.Find(bmff.ParseBoxes(stream.ExtraData, nil), bmff.TypeEsds)
	if esds == nil || len(esds.Payload) < 4 {
		return
	}

	info, err := codec.ParseESDS(esds.Payload[4:]) // skip version and flags
	if err != nil || len(info.DecSpecificInfo) == 0 {
		return
	}
	var conf codec.AudioSpecificConfig
	if err := conf.Decode(info.DecSpecificInfo); err != nil {
		return
	}

	if conf.SampleRate > 0 {
		stream.SampleRate = float64(conf.SampleRate)
	}
	if conf.ChannelCount > 0 {
		stream.ChannelCount = uint16(conf.ChannelCount)
	}
}

// computeFrameRates derives the constant and average frame rates from
// the time-to-sample runs. A zero return means the value is unknown.
func computeFrameRates(table *SampleTable, timeScale uint32) (frameRate, avgFrameRate float64, constant bool) {
	samples, ticks := table.totalTicks()
	if samples == 0 || ticks == 0 || timeScale == 0 {
		return 0, 0, false
	}

	avgFrameRate = round3(float64(samples) * float64(timeScale) / float64(ticks))

	constant = true
	delta := table.TimeToSample[0].Delta
	for _, e := range table.TimeToSample[1:] {
		if e.Delta != delta {
			constant = false
			break
		}
	}
	if constant && delta > 0 {
		frameRate = round3(float64(timeScale) / float64(delta))
	}
	return frameRate, avgFrameRate, constant
}
