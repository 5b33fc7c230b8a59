package demux

import (
	"encoding/binary"

	"mp4demux/pkg/bmff"
)

// Test fixtures are synthetic MP4 files assembled box by box.

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// fullBox0 prefixes a version-0 full-box header.
func fullBox0(body ...[]byte) []byte {
	return cat(append([][]byte{{0, 0, 0, 0}}, body...)...)
}

func ftypBox() bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeFtyp, Payload: cat(
		[]byte("isom"), u32(0), []byte("isom"), []byte("iso2"),
	)}
}

func mvhdBox(timeScale, duration uint32) bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeMvhd, Payload: fullBox0(
		u32(0), u32(0), // creation and modification time
		u32(timeScale),
		u32(duration),
		make([]byte, 80), // rate, volume, reserved, matrix, next track
	)}
}

func mdhdBox(timeScale, duration uint32) bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeMdhd, Payload: fullBox0(
		u32(0), u32(0),
		u32(timeScale),
		u32(duration),
		u16(0x55c4), // language "und"
		u16(0),
	)}
}

func hdlrBox(handler string) bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeHdlr, Payload: fullBox0(
		u32(0),
		[]byte(handler),
		make([]byte, 12),
		[]byte{0}, // empty name
	)}
}

// videoEntry builds one VisualSampleEntry: 8-byte box header, 78 bytes
// of fixed fields, then extensions.
func videoEntry(fourcc string, width, height uint16, extra []byte) []byte {
	compressor := make([]byte, 32)
	body := cat(
		make([]byte, 6), u16(1), // reserved, data reference index
		make([]byte, 16),        // predefined, reserved
		u16(width), u16(height),
		u32(0x00480000), u32(0x00480000), // 72 dpi
		u32(0),
		u16(1), // frame count
		compressor,
		u16(24),         // depth
		u16(0xffff),     // predefined -1
		extra,
	)
	return cat(u32(uint32(8+len(body))), []byte(fourcc), body)
}

// audioEntry builds one v0 AudioSampleEntry.
func audioEntry(fourcc string, channels, bitDepth uint16, rate uint32, extra []byte) []byte {
	body := cat(
		make([]byte, 6), u16(1),
		u16(0),           // version
		make([]byte, 6),  // revision, vendor
		u16(channels),
		u16(bitDepth),
		u16(0), u16(0),   // compression id, packet size
		u32(rate<<16),    // 16.16 fixed point
		extra,
	)
	return cat(u32(uint32(8+len(body))), []byte(fourcc), body)
}

func stsdBox(entry []byte) bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeStsd, Payload: fullBox0(u32(1), entry)}
}

func stszBox(sizes []uint32) bmff.WriteBox {
	body := cat(u32(0), u32(uint32(len(sizes))))
	for _, s := range sizes {
		body = append(body, u32(s)...)
	}
	return bmff.WriteBox{Type: bmff.TypeStsz, Payload: fullBox0(body)}
}

func stszUniformBox(size, count uint32) bmff.WriteBox {
	return bmff.WriteBox{Type: bmff.TypeStsz, Payload: fullBox0(u32(size), u32(count))}
}

func stcoBox(offsets []uint64) bmff.WriteBox {
	body := u32(uint32(len(offsets)))
	for _, o := range offsets {
		body = append(body, u32(uint32(o))...)
	}
	return bmff.WriteBox{Type: bmff.TypeStco, Payload: fullBox0(body)}
}

func co64Box(offsets []uint64) bmff.WriteBox {
	body := u32(uint32(len(offsets)))
	for _, o := range offsets {
		body = append(body, u64(o)...)
	}
	return bmff.WriteBox{Type: bmff.TypeCo64, Payload: fullBox0(body)}
}

func stscBox(entries []StscEntry) bmff.WriteBox {
	body := u32(uint32(len(entries)))
	for _, e := range entries {
		body = cat(body, u32(e.FirstChunk), u32(e.SamplesPerChunk), u32(e.DescIndex))
	}
	return bmff.WriteBox{Type: bmff.TypeStsc, Payload: fullBox0(body)}
}

func sttsBox(entries []SttsEntry) bmff.WriteBox {
	body := u32(uint32(len(entries)))
	for _, e := range entries {
		body = cat(body, u32(e.Count), u32(e.Delta))
	}
	return bmff.WriteBox{Type: bmff.TypeStts, Payload: fullBox0(body)}
}

func stssBox(samples []uint32) bmff.WriteBox {
	body := u32(uint32(len(samples)))
	for _, s := range samples {
		body = append(body, u32(s)...)
	}
	return bmff.WriteBox{Type: bmff.TypeStss, Payload: fullBox0(body)}
}

func cttsBox(entries []CttsEntry) bmff.WriteBox {
	body := u32(uint32(len(entries)))
	for _, e := range entries {
		body = cat(body, u32(e.Count), u32(uint32(e.Offset)))
	}
	return bmff.WriteBox{Type: bmff.TypeCtts, Payload: fullBox0(body)}
}

// testTrack describes one trak of a synthetic file.
type testTrack struct {
	handler   string
	entry     []byte // stsd sample entry
	timeScale uint32
	duration  uint32

	sizes []uint32
	stts  []SttsEntry
	stsc  []StscEntry
	stco  []uint64 // relative to the mdat payload unless absolute
	co64  bool
	stss  []uint32 // nil = no stss box
	ctts  []CttsEntry

	// absolute disables rebasing stco onto the mdat payload offset.
	absolute bool

	extraBoxes []bmff.WriteBox // appended to stbl
}

func trakBox(tr testTrack, mdatBase uint64) bmff.WriteBox {
	offsets := make([]uint64, len(tr.stco))
	for i, o := range tr.stco {
		if tr.absolute {
			offsets[i] = o
		} else {
			offsets[i] = o + mdatBase
		}
	}

	stbl := bmff.WriteBox{Type: bmff.TypeStbl, Children: []bmff.WriteBox{
		stsdBox(tr.entry),
		sttsBox(tr.stts),
		stscBox(tr.stsc),
		stszBox(tr.sizes),
	}}
	if tr.co64 {
		stbl.Children = append(stbl.Children, co64Box(offsets))
	} else {
		stbl.Children = append(stbl.Children, stcoBox(offsets))
	}
	if tr.stss != nil {
		stbl.Children = append(stbl.Children, stssBox(tr.stss))
	}
	if tr.ctts != nil {
		stbl.Children = append(stbl.Children, cttsBox(tr.ctts))
	}
	stbl.Children = append(stbl.Children, tr.extraBoxes...)

	return bmff.WriteBox{Type: bmff.TypeTrak, Children: []bmff.WriteBox{
		{Type: bmff.TypeMdia, Children: []bmff.WriteBox{
			mdhdBox(tr.timeScale, tr.duration),
			hdlrBox(tr.handler),
			{Type: bmff.TypeMinf, Children: []bmff.WriteBox{
				{Type: bmff.TypeDinf},
				stbl,
			}},
		}},
	}}
}

// buildFile assembles ftyp + moov + mdat. Track chunk offsets given
// relative to the mdat payload are rebased onto its absolute offset.
func buildFile(movieTimeScale, movieDuration uint32, tracks []testTrack, mdatLen int) []byte {
	assemble := func(mdatBase uint64) []byte {
		moov := bmff.WriteBox{Type: bmff.TypeMoov, Children: []bmff.WriteBox{
			mvhdBox(movieTimeScale, movieDuration),
		}}
		for _, tr := range tracks {
			moov.Children = append(moov.Children, trakBox(tr, mdatBase))
		}
		return bmff.MarshalBoxes([]bmff.WriteBox{
			ftypBox(),
			moov,
			{Type: bmff.TypeMdat, Payload: make([]byte, mdatLen)},
		})
	}

	// Marshal once to learn where the mdat payload lands, then rebase.
	first := assemble(0)
	return assemble(uint64(len(first) - mdatLen))
}
