// Package demux turns a resident MOV/MP4 byte buffer into a
// time-ordered cursor of encoded media samples.
//
// The demuxer borrows the buffer and returns sample data as
// non-owning sub-slices; the buffer must outlive the demuxer. Edit
// lists (elst) are ignored: media timelines are used as presentation
// timelines.
package demux

import (
	"fmt"
	"sort"

	"mp4demux/pkg/bmff"
	"mp4demux/pkg/probe"
)

// Options configure which streams the demuxer keeps.
type Options struct {
	EnableVideo bool
	EnableAudio bool
	Debug       bool
}

// DefaultOptions enables every stream kind.
func DefaultOptions() Options {
	return Options{EnableVideo: true, EnableAudio: true}
}

// FileType is the decoded ftyp box.
type FileType struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
}

type state int

const (
	stateUnparsed state = iota
	stateInitialized
	stateClosed
)

// Demuxer is a pull-style cursor over the samples of one file.
// It is not safe for concurrent use.
type Demuxer struct {
	buf  []byte
	opts Options

	state state
	probe *probe.Probe

	ftyp      *FileType
	timeScale uint32
	duration  uint64

	streams []*Stream
	tables  map[uint32]*SampleTable

	mdatOffset uint64
	mdatSize   uint64

	samples []Sample
	cursor  int

	warnings []error
}

// Open creates a demuxer over buf. The buffer is borrowed for the
// lifetime of the demuxer. Call Init before any accessor.
func Open(buf []byte, opts Options) *Demuxer {
	return &Demuxer{
		buf:    buf,
		opts:   opts,
		probe:  probe.New(opts.Debug),
		tables: map[uint32]*SampleTable{},
	}
}

// OpenOwned copies buf so the demuxer does not depend on the caller
// keeping it alive. Sample data views alias the private copy.
func OpenOwned(buf []byte, opts Options) *Demuxer {
	own := make([]byte, len(buf))
	copy(own, buf)
	return Open(own, opts)
}

func (d *Demuxer) warn(err error) {
	d.warnings = append(d.warnings, err)
}

// Init parses the container and builds the global sample index.
func (d *Demuxer) Init() error {
	if d.state == stateClosed {
		return ErrNotInitialized
	}
	if d.state == stateInitialized {
		return nil
	}

	d.probe.Start("parse")
	tree := bmff.ParseBoxes(d.buf, d.warn)
	d.probe.Stop("parse")
	if len(tree) == 0 {
		return fmt.Errorf("%w: no boxes", ErrInvalidFileFormat)
	}

	moov := findTopLevel(tree, bmff.TypeMoov)
	if moov == nil {
		return fmt.Errorf("%w: moov", ErrMissingRequiredBox)
	}

	if ftyp := findTopLevel(tree, bmff.TypeFtyp); ftyp != nil {
		d.ftyp = parseFtyp(ftyp.Payload)
	}

	mvhd := bmff.FindPath(moov.Children, bmff.TypeMvhd)
	if mvhd == nil {
		return fmt.Errorf("%w: moov/mvhd", ErrMissingRequiredBox)
	}
	var err error
	d.timeScale, d.duration, err = parseMvhd(mvhd.Payload)
	if err != nil {
		return fmt.Errorf("parse mvhd: %w", err)
	}

	if mdat := findTopLevel(tree, bmff.TypeMdat); mdat != nil {
		d.mdatOffset = mdat.PayloadOffset()
		d.mdatSize = mdat.Size - uint64(mdat.HeaderSize)
	}

	if err := d.parseTracks(moov); err != nil {
		return err
	}

	d.probe.Start("sort")
	sort.SliceStable(d.samples, func(i, j int) bool {
		a, b := d.samples[i], d.samples[j]
		if a.TimestampUs != b.TimestampUs {
			return a.TimestampUs < b.TimestampUs
		}
		return a.StreamID < b.StreamID
	})
	d.probe.Stop("sort")

	d.state = stateInitialized
	d.cursor = 0
	return nil
}

// parseTracks decodes every trak in file order; the index becomes the
// stream id.
func (d *Demuxer) parseTracks(moov *bmff.Box) error {
	var advertised [2]bool // moov holds a track of this kind
	var kept [2]int        // samples kept per kind

	var id uint32
	for _, child := range moov.Children {
		if child.Type != bmff.TypeTrak {
			continue
		}
		trakID := id
		id++

		d.probe.Start("streams")
		stream, err := parseStream(child, trakID, d.warn)
		d.probe.Stop("streams")
		if err != nil {
			d.warn(fmt.Errorf("track %d: %w", trakID, err))
			continue
		}
		if stream == nil {
			continue // hint, subtitle or metadata track
		}
		advertised[stream.Kind] = true

		if stream.Kind == KindVideo && !d.opts.EnableVideo {
			continue
		}
		if stream.Kind == KindAudio && !d.opts.EnableAudio {
			continue
		}

		stbl := bmff.FindPath(child.Children,
			bmff.TypeMdia, bmff.TypeMinf, bmff.TypeStbl)
		if stbl == nil {
			d.warn(fmt.Errorf("track %d: %w: stbl", trakID, ErrMissingRequiredBox))
			continue
		}

		d.probe.Start("samples")
		table, err := parseSampleTable(stbl, d.warn)
		if err != nil {
			d.probe.Stop("samples")
			d.warn(fmt.Errorf("track %d: %w", trakID, err))
			continue
		}

		mdatEnd := uint64(0)
		if d.mdatSize != 0 {
			mdatEnd = d.mdatOffset + d.mdatSize
		}
		samples := table.buildSamples(trakID, stream.TimeScale, mdatEnd, d.warn)
		d.probe.Stop("samples")

		stream.FrameRate, stream.AvgFrameRate, _ = computeFrameRates(table, stream.TimeScale)
		d.computeBitRate(stream, table)

		d.streams = append(d.streams, stream)
		d.tables[trakID] = table
		d.samples = append(d.samples, samples...)
		kept[stream.Kind] += len(samples)
	}

	if d.opts.EnableVideo && advertised[KindVideo] && kept[KindVideo] == 0 {
		return fmt.Errorf("%w: video tracks yield no samples", ErrInvalidSampleTable)
	}
	if d.opts.EnableAudio && advertised[KindAudio] && kept[KindAudio] == 0 {
		return fmt.Errorf("%w: audio tracks yield no samples", ErrInvalidSampleTable)
	}
	return nil
}

// computeBitRate derives the average bit rate from the sample sizes
// and the track duration, and uses it as the nominal rate as well.
func (d *Demuxer) computeBitRate(stream *Stream, table *SampleTable) {
	if stream.Duration == 0 || stream.TimeScale == 0 {
		return
	}
	bits := table.totalBytes() * 8
	avg := (bits*uint64(stream.TimeScale) + stream.Duration/2) / stream.Duration
	stream.AvgBitRate = uint32(avg)
	stream.BitRate = stream.AvgBitRate
}

// findTopLevel returns the first direct child of the file with the
// given type.
func findTopLevel(tree []*bmff.Box, t bmff.BoxType) *bmff.Box {
	for _, b := range tree {
		if b.Type == t {
			return b
		}
	}
	return nil
}

func parseFtyp(payload []byte) *FileType {
	r := bmff.NewReader(payload)
	ft := &FileType{
		MajorBrand:   r.FourCC().String(),
		MinorVersion: r.Uint32(),
	}
	for r.Remaining() >= 4 {
		ft.CompatibleBrands = append(ft.CompatibleBrands, r.FourCC().String())
	}
	if r.Err() != nil {
		return nil
	}
	return ft
}

// parseMvhd reads the movie time scale and duration, v0 or v1.
func parseMvhd(payload []byte) (timeScale uint32, duration uint64, err error) {
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

// Close releases the sample index. Idempotent; the demuxer cannot be
// reused afterwards.
func (d *Demuxer) Close() {
	d.state = stateClosed
	d.samples = nil
	d.streams = nil
	d.tables = nil
}

// Reset rewinds the cursor to the first sample.
func (d *Demuxer) Reset() {
	d.cursor = 0
}

// NextSample returns the next sample in timestamp order, or nil at
// the end of the index.
func (d *Demuxer) NextSample() *Sample {
	if d.state != stateInitialized || d.cursor >= len(d.samples) {
		return nil
	}
	s := &d.samples[d.cursor]
	d.cursor++
	return s
}

// SampleData returns the encoded bytes of a sample as a non-owning
// view into the source buffer.
func (d *Demuxer) SampleData(s *Sample) ([]byte, error) {
	if d.state != stateInitialized {
		return nil, ErrNotInitialized
	}
	end := s.Offset + uint64(s.Size)
	if s.Offset > uint64(len(d.buf)) || end > uint64(len(d.buf)) {
		return nil, fmt.Errorf("%w: sample range %d:%d outside buffer of %d",
			ErrCorruptData, s.Offset, end, len(d.buf))
	}
	return d.buf[s.Offset:end:end], nil
}

// Seek positions the cursor on the latest keyframe at or before the
// target. Out-of-range targets clamp; with no preceding keyframe the
// cursor rewinds to the start. Seeking an empty index is a no-op.
func (d *Demuxer) Seek(targetUs int64) {
	if d.state != stateInitialized || len(d.samples) == 0 {
		return
	}

	best := 0
	for i := range d.samples {
		if d.samples[i].TimestampUs > targetUs {
			break
		}
		if d.samples[i].Keyframe {
			best = i
		}
	}
	d.cursor = best
}

// SampleAt returns the sample at an index in the merged order.
func (d *Demuxer) SampleAt(i int) (Sample, error) {
	if d.state != stateInitialized {
		return Sample{}, ErrNotInitialized
	}
	if i < 0 || i >= len(d.samples) {
		return Sample{}, fmt.Errorf("%w: index %d of %d", ErrSampleNotFound, i, len(d.samples))
	}
	return d.samples[i], nil
}

// Stream returns the stream with the given id.
func (d *Demuxer) Stream(id uint32) (*Stream, error) {
	for _, s := range d.streams {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrStreamNotFound, id)
}

// Info is the file-level summary.
type Info struct {
	Duration    uint64 // movie duration in ticks
	TimeScale   uint32
	DurationUs  int64
	Streams     []*Stream
	SampleCount int
	FileType    *FileType
}

// Info returns the file-level summary. Valid after Init.
func (d *Demuxer) Info() Info {
	return Info{
		Duration:    d.duration,
		TimeScale:   d.timeScale,
		DurationUs:  ticksToMicros(int64(d.duration), d.timeScale),
		Streams:     d.streams,
		SampleCount: len(d.samples),
		FileType:    d.ftyp,
	}
}

// FrameRateInfo is the per-stream frame rate projection.
type FrameRateInfo struct {
	StreamID     uint32
	FrameRate    float64
	AvgFrameRate float64
	Constant     bool
}

// FrameRateInfo reports frame rates for every video stream.
func (d *Demuxer) FrameRateInfo() []FrameRateInfo {
	var out []FrameRateInfo
	for _, s := range d.streams {
		if s.Kind != KindVideo {
			continue
		}
		out = append(out, FrameRateInfo{
			StreamID:     s.ID,
			FrameRate:    s.FrameRate,
			AvgFrameRate: s.AvgFrameRate,
			Constant:     s.FrameRate != 0,
		})
	}
	return out
}

// BitRateInfo is the per-stream bit rate projection.
type BitRateInfo struct {
	StreamID   uint32
	BitRate    uint32
	AvgBitRate uint32
}

// BitRateInfo reports bit rates for every stream.
func (d *Demuxer) BitRateInfo() []BitRateInfo {
	var out []BitRateInfo
	for _, s := range d.streams {
		out = append(out, BitRateInfo{
			StreamID:   s.ID,
			BitRate:    s.BitRate,
			AvgBitRate: s.AvgBitRate,
		})
	}
	return out
}

// MdatRange returns the offset and size of the media-data payload.
func (d *Demuxer) MdatRange() (offset, size uint64) {
	return d.mdatOffset, d.mdatSize
}

// Warnings returns the non-fatal deviations accumulated during Init.
func (d *Demuxer) Warnings() []error {
	return d.warnings
}

// ProbeSnapshot returns parse-phase diagnostics. Empty unless the
// demuxer was opened with Debug.
func (d *Demuxer) ProbeSnapshot() probe.Snapshot {
	return d.probe.Snapshot()
}
