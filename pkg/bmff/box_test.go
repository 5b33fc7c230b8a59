package bmff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBoxes(t *testing.T) {
	buf := MarshalBoxes([]WriteBox{
		{Type: TypeFtyp, Payload: []byte{'i', 's', 'o', 'm', 0, 0, 0, 0}},
		{Type: TypeMoov, Children: []WriteBox{
			{Type: TypeMvhd, Payload: []byte{1, 2, 3}},
			{Type: TypeTrak, Children: []WriteBox{
				{Type: TypeTkhd, Payload: []byte{4}},
			}},
		}},
	})

	boxes := ParseBoxes(buf, nil)
	require.Len(t, boxes, 2)

	ftyp := boxes[0]
	require.Equal(t, TypeFtyp, ftyp.Type)
	require.Equal(t, uint64(16), ftyp.Size)
	require.Equal(t, uint64(0), ftyp.Offset)
	require.Equal(t, []byte{'i', 's', 'o', 'm', 0, 0, 0, 0}, ftyp.Payload)

	moov := boxes[1]
	require.Equal(t, TypeMoov, moov.Type)
	require.Nil(t, moov.Payload, "container payload is replaced by children")
	require.Len(t, moov.Children, 2)

	trak := moov.Children[1]
	require.Len(t, trak.Children, 1)
	require.Equal(t, TypeTkhd, trak.Children[0].Type)
	require.Equal(t, []byte{4}, trak.Children[0].Payload)

	// Offsets are absolute file offsets.
	require.Equal(t, ftyp.Size, moov.Offset)
	require.Equal(t, moov.Offset+8, moov.Children[0].Offset)
}

func TestParseBoxExtendedSize(t *testing.T) {
	payload := []byte{0xde, 0xad}
	buf := []byte{
		0, 0, 0, 1, // Size 1 signals largesize.
		'm', 'd', 'a', 't',
		0, 0, 0, 0, 0, 0, 0, 18, // Largesize = 16 header + 2 payload.
		0xde, 0xad,
	}

	boxes := ParseBoxes(buf, nil)
	require.Len(t, boxes, 1)
	require.Equal(t, TypeMdat, boxes[0].Type)
	require.Equal(t, uint64(18), boxes[0].Size)
	require.Equal(t, 16, boxes[0].HeaderSize)
	require.Equal(t, uint64(16), boxes[0].PayloadOffset())
	require.Equal(t, payload, boxes[0].Payload)
}

func TestParseBoxSizeZero(t *testing.T) {
	buf := []byte{
		0, 0, 0, 0, // Size 0: extends to the end.
		'm', 'd', 'a', 't',
		1, 2, 3, 4, 5,
	}

	boxes := ParseBoxes(buf, nil)
	require.Len(t, boxes, 1)
	require.Equal(t, uint64(13), boxes[0].Size)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, boxes[0].Payload)
}

func TestParseBoxMalformedChild(t *testing.T) {
	// moov with one good child and one whose size crosses the parent end.
	moov := WriteBox{Type: TypeMoov, Children: []WriteBox{
		{Type: TypeMvhd, Payload: []byte{1}},
	}}
	buf := MarshalBoxes([]WriteBox{moov})

	// Append a child header claiming 100 bytes into the moov payload.
	bad := []byte{0, 0, 0, 100, 't', 'r', 'a', 'k'}
	buf = append(buf, bad...)
	pos := 0
	WriteUint32(buf, &pos, uint32(len(buf))) // grow moov to cover it

	var warnings []error
	boxes := ParseBoxes(buf, func(err error) { warnings = append(warnings, err) })

	require.Len(t, boxes, 1)
	require.Len(t, boxes[0].Children, 1, "good sibling before the bad child is kept")
	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0], ErrInvalidBoxSize)
}

func TestParseBoxSizeBelowHeader(t *testing.T) {
	buf := []byte{
		0, 0, 0, 4, // Size 4 cannot hold its own 8-byte header.
		'f', 'r', 'e', 'e',
	}

	var warnings []error
	boxes := ParseBoxes(buf, func(err error) { warnings = append(warnings, err) })
	require.Empty(t, boxes)
	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0], ErrInvalidBoxSize)
}

func TestParseMetaVersionFlags(t *testing.T) {
	meta := WriteBox{Type: TypeMeta, Payload: []byte{0, 0, 0, 0}} // version+flags
	meta.Payload = append(meta.Payload, MarshalBoxes([]WriteBox{
		{Type: TypeHdlr, Payload: []byte{1, 2}},
	})...)
	buf := MarshalBoxes([]WriteBox{meta})

	boxes := ParseBoxes(buf, nil)
	require.Len(t, boxes, 1)
	require.Len(t, boxes[0].Children, 1)
	require.Equal(t, TypeHdlr, boxes[0].Children[0].Type)
}

func TestFind(t *testing.T) {
	buf := MarshalBoxes([]WriteBox{
		{Type: TypeMoov, Children: []WriteBox{
			{Type: TypeTrak, Children: []WriteBox{
				{Type: TypeMdia, Children: []WriteBox{
					{Type: TypeMdhd, Payload: []byte{1}},
				}},
			}},
			{Type: TypeTrak, Children: []WriteBox{
				{Type: TypeMdia, Children: []WriteBox{
					{Type: TypeMdhd, Payload: []byte{2}},
				}},
			}},
		}},
	})
	tree := ParseBoxes(buf, nil)

	mdhd := Find(tree, TypeMdhd)
	require.NotNil(t, mdhd)
	require.Equal(t, []byte{1}, mdhd.Payload, "pre-order: first track wins")

	require.Nil(t, Find(tree, TypeStco))

	traks := FindAll(tree, TypeTrak)
	require.Len(t, traks, 2)

	mdhds := FindAll(tree, TypeMdhd)
	require.Len(t, mdhds, 2)
	require.Equal(t, []byte{2}, mdhds[1].Payload)
}

func TestFindPath(t *testing.T) {
	buf := MarshalBoxes([]WriteBox{
		{Type: TypeMoov, Children: []WriteBox{
			{Type: TypeTrak, Children: []WriteBox{
				{Type: TypeMdia, Children: []WriteBox{
					{Type: TypeHdlr, Payload: []byte{7}},
				}},
			}},
		}},
	})
	tree := ParseBoxes(buf, nil)

	hdlr := FindPath(tree, TypeMoov, TypeTrak, TypeMdia, TypeHdlr)
	require.NotNil(t, hdlr)
	require.Equal(t, []byte{7}, hdlr.Payload)

	require.Nil(t, FindPath(tree, TypeMoov, TypeMdia), "only direct children match")
}
