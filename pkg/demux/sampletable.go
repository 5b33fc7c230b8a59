package demux

import (
	"fmt"

	"mp4demux/pkg/bmff"
)

// SttsEntry is one time-to-sample run in stream-time ticks.
type SttsEntry struct {
	Count uint32
	Delta uint32
}

// StscEntry is one sample-to-chunk run. FirstChunk is 1-based and the
// run extends to the next entry's FirstChunk - 1.
type StscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	DescIndex       uint32
}

// CttsEntry is one composition-offset run.
type CttsEntry struct {
	Count  uint32
	Offset int32
}

// SampleTable holds the decoded stbl tables for one track.
type SampleTable struct {
	Sizes              []uint32
	ChunkOffsets       []uint64
	SampleToChunk      []StscEntry
	TimeToSample       []SttsEntry
	CompositionOffsets []CttsEntry

	// SyncSamples holds 1-based keyframe indices. When HasSyncTable is
	// false every sample is a keyframe.
	SyncSamples  []uint32
	HasSyncTable bool
}

// parseSampleTable decodes the stbl children of one track.
func parseSampleTable(stbl *bmff.Box, warn func(error)) (*SampleTable, error) {
	table := &SampleTable{}

	for _, box := range stbl.Children {
		var err error
		switch box.Type {
		case bmff.TypeStsz:
			table.Sizes, err = parseStsz(box.Payload)
		case bmff.TypeStz2:
			table.Sizes, err = parseStz2(box.Payload)
		case bmff.TypeStco:
			table.ChunkOffsets, err = parseStco(box.Payload)
		case bmff.TypeCo64:
			table.ChunkOffsets, err = parseCo64(box.Payload)
		case bmff.TypeStsc:
			table.SampleToChunk, err = parseStsc(box.Payload)
		case bmff.TypeStts:
			table.TimeToSample, err = parseStts(box.Payload)
		case bmff.TypeCtts:
			table.CompositionOffsets, err = parseCtts(box.Payload)
		case bmff.TypeStss:
			table.SyncSamples, err = parseStss(box.Payload)
			table.HasSyncTable = err == nil
		}
		if err != nil {
			// Truncated tables are recoverable: keep what decoded.
			warn(fmt.Errorf("%w: %s: %v", ErrInvalidSampleTable, box.Type, err))
		}
	}

	if table.Sizes == nil || table.ChunkOffsets == nil ||
		table.SampleToChunk == nil || table.TimeToSample == nil {
		return nil, fmt.Errorf("%w: stbl lacks stsz/stco/stsc/stts", ErrInvalidSampleTable)
	}
	return table, nil
}

// fullBoxReader wraps a payload and consumes the version and flags.
func fullBoxReader(payload []byte) (*bmff.Reader, uint8) {
	r := bmff.NewReader(payload)
	version := r.Uint8()
	r.Uint24() // flags
	return r, version
}

func parseStsz(payload []byte) ([]uint32, error) {
	r, _ := fullBoxReader(payload)
	uniformSize := r.Uint32()
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	sizes := make([]uint32, 0, count)
	if uniformSize != 0 {
		for i := uint32(0); i < count; i++ {
			sizes = append(sizes, uniformSize)
		}
		return sizes, nil
	}

	for i := uint32(0); i < count; i++ {
		v := r.Uint32()
		if r.Err() != nil {
			return sizes, r.Err()
		}
		sizes = append(sizes, v)
	}
	return sizes, nil
}

func parseStz2(payload []byte) ([]uint32, error) {
	r, _ := fullBoxReader(payload)
	r.Uint24() // reserved
	fieldSize := r.Uint8()
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	sizes := make([]uint32, 0, count)
	switch fieldSize {
	case 4:
		// Two entries per byte, high nibble first.
		for i := uint32(0); i < count; i += 2 {
			b := r.Uint8()
			if r.Err() != nil {
				return sizes, r.Err()
			}
			sizes = append(sizes, uint32(b>>4))
			if i+1 < count {
				sizes = append(sizes, uint32(b&0x0f))
			}
		}
	case 8:
		for i := uint32(0); i < count; i++ {
			v := r.Uint8()
			if r.Err() != nil {
				return sizes, r.Err()
			}
			sizes = append(sizes, uint32(v))
		}
	case 16:
		for i := uint32(0); i < count; i++ {
			v := r.Uint16()
			if r.Err() != nil {
				return sizes, r.Err()
			}
			sizes = append(sizes, uint32(v))
		}
	default:
		return nil, fmt.Errorf("field size %d", fieldSize)
	}
	return sizes, nil
}

func parseStco(payload []byte) ([]uint64, error) {
	r, _ := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	offsets := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		v := r.Uint32()
		if r.Err() != nil {
			return offsets, r.Err()
		}
		offsets = append(offsets, uint64(v))
	}
	return offsets, nil
}

func parseCo64(payload []byte) ([]uint64, error) {
	r, _ := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	offsets := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		v := r.Uint64()
		if r.Err() != nil {
			return offsets, r.Err()
		}
		offsets = append(offsets, v)
	}
	return offsets, nil
}

func parseStsc(payload []byte) ([]StscEntry, error) {
	r, _ := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	entries := make([]StscEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		e := StscEntry{
			FirstChunk:      r.Uint32(),
			SamplesPerChunk: r.Uint32(),
			DescIndex:       r.Uint32(),
		}
		if r.Err() != nil {
			return entries, r.Err()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseStts(payload []byte) ([]SttsEntry, error) {
	r, _ := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	entries := make([]SttsEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		e := SttsEntry{
			Count: r.Uint32(),
			Delta: r.Uint32(),
		}
		if r.Err() != nil {
			return entries, r.Err()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseCtts(payload []byte) ([]CttsEntry, error) {
	r, version := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	entries := make([]CttsEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		e := CttsEntry{Count: r.Uint32()}
		if version == 0 {
			e.Offset = int32(r.Uint32())
		} else {
			e.Offset = r.Int32()
		}
		if r.Err() != nil {
			return entries, r.Err()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseStss(payload []byte) ([]uint32, error) {
	r, _ := fullBoxReader(payload)
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	samples := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v := r.Uint32()
		if r.Err() != nil {
			return samples, r.Err()
		}
		samples = append(samples, v)
	}
	return samples, nil
}

// buildSamples materializes the flat sample index for one track.
// Timestamps stay in integer ticks until the final conversion to
// microseconds. mdatEnd of zero disables the chunk bounds warning.
func (t *SampleTable) buildSamples(
	streamID uint32,
	timeScale uint32,
	mdatEnd uint64,
	warn func(error),
) []Sample {
	count := len(t.Sizes)
	if count == 0 || len(t.ChunkOffsets) == 0 || len(t.SampleToChunk) == 0 {
		return nil
	}

	sync := make(map[uint32]struct{}, len(t.SyncSamples))
	for _, s := range t.SyncSamples {
		sync[s] = struct{}{}
	}

	samples := make([]Sample, 0, count)

	// Time-to-sample accumulator state.
	sttsIdx := 0
	sttsRemaining := uint32(0)
	sttsDelta := uint32(0)
	if len(t.TimeToSample) > 0 {
		sttsRemaining = t.TimeToSample[0].Count
		sttsDelta = t.TimeToSample[0].Delta
	}

	// Composition-offset accumulator state.
	cttsIdx := 0
	cttsRemaining := uint32(0)
	cttsOffset := int32(0)
	if len(t.CompositionOffsets) > 0 {
		cttsRemaining = t.CompositionOffsets[0].Count
		cttsOffset = t.CompositionOffsets[0].Offset
	}

	var dts int64
	sampleIdx := 0
	stscIdx := 0
	truncated := false

	for chunk := uint32(1); int(chunk) <= len(t.ChunkOffsets); chunk++ {
		// Advance the stsc run when this chunk reaches the next entry.
		for stscIdx+1 < len(t.SampleToChunk) &&
			chunk >= t.SampleToChunk[stscIdx+1].FirstChunk {
			stscIdx++
		}
		perChunk := t.SampleToChunk[stscIdx].SamplesPerChunk

		chunkStart := t.ChunkOffsets[chunk-1]
		offset := chunkStart
		var chunkBytes uint64

		for i := uint32(0); i < perChunk; i++ {
			if sampleIdx >= count {
				truncated = true
				break
			}
			size := t.Sizes[sampleIdx]

			tsUs := ticksToMicros(dts, timeScale)
			durUs := ticksToMicros(int64(sttsDelta), timeScale)

			keyframe := true
			if t.HasSyncTable {
				_, keyframe = sync[uint32(sampleIdx+1)] // stss is 1-based
			}

			samples = append(samples, Sample{
				StreamID:            streamID,
				Offset:              offset,
				Size:                size,
				TimestampUs:         tsUs,
				DurationUs:          uint32(durUs),
				CompositionOffsetUs: int32(ticksToMicros(int64(cttsOffset), timeScale)),
				Keyframe:            keyframe,
			})

			offset += uint64(size)
			chunkBytes += uint64(size)
			sampleIdx++

			dts += int64(sttsDelta)
			if sttsRemaining > 0 {
				sttsRemaining--
			}
			if sttsRemaining == 0 && sttsIdx+1 < len(t.TimeToSample) {
				sttsIdx++
				sttsRemaining = t.TimeToSample[sttsIdx].Count
				sttsDelta = t.TimeToSample[sttsIdx].Delta
			}

			if cttsRemaining > 0 {
				cttsRemaining--
				if cttsRemaining == 0 && cttsIdx+1 < len(t.CompositionOffsets) {
					cttsIdx++
					cttsRemaining = t.CompositionOffsets[cttsIdx].Count
					cttsOffset = t.CompositionOffsets[cttsIdx].Offset
				}
			}
		}

		if mdatEnd != 0 && chunkStart+chunkBytes > mdatEnd {
			warn(fmt.Errorf("%w: chunk %d ends at %d beyond mdat end %d",
				ErrInvalidSampleTable, chunk, chunkStart+chunkBytes, mdatEnd))
		}
		if truncated {
			break
		}
	}

	if truncated {
		warn(fmt.Errorf("%w: stsc implies more samples than stsz holds (%d), truncating",
			ErrInvalidSampleTable, count))
	}
	if sampleIdx < count {
		warn(fmt.Errorf("%w: chunks cover %d of %d samples, trimming",
			ErrInvalidSampleTable, sampleIdx, count))
	}

	return samples
}

// totalTicks sums the stts run durations.
func (t *SampleTable) totalTicks() (samples uint64, ticks uint64) {
	for _, e := range t.TimeToSample {
		samples += uint64(e.Count)
		ticks += uint64(e.Count) * uint64(e.Delta)
	}
	return
}

// totalBytes sums the sample sizes.
func (t *SampleTable) totalBytes() uint64 {
	var n uint64
	for _, s := range t.Sizes {
		n += uint64(s)
	}
	return n
}
