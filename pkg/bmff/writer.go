package bmff

import (
	"encoding/binary"
)

// WriteBox is a mutable box tree that can be marshaled to bytes.
// The library never writes media itself; the tests use this to
// assemble synthetic files.
type WriteBox struct {
	Type     BoxType
	Payload  []byte
	Children []WriteBox
}

// Size returns the marshaled size in bytes including the header.
func (b *WriteBox) Size() int {
	total := 8 + len(b.Payload)
	for i := range b.Children {
		total += b.Children[i].Size()
	}
	return total
}

// Marshal box including children.
func (b *WriteBox) Marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, uint32(b.Size()))
	Write(buf, pos, b.Type[:])
	Write(buf, pos, b.Payload)
	for i := range b.Children {
		b.Children[i].Marshal(buf, pos)
	}
}

// MarshalBoxes marshals a sequence of sibling boxes to a new buffer.
func MarshalBoxes(boxes []WriteBox) []byte {
	size := 0
	for i := range boxes {
		size += boxes[i].Size()
	}
	buf := make([]byte, size)
	pos := 0
	for i := range boxes {
		boxes[i].Marshal(buf, &pos)
	}
	return buf
}

// Write writes len(p) bytes.
func Write(buf []byte, pos *int, p []byte) {
	*pos += copy(buf[*pos:], p)
}

// WriteByte writes 1 byte.
func WriteByte(buf []byte, pos *int, byt byte) {
	buf[*pos] = byt
	*pos++
}

// WriteUint16 writes 16 bits.
func WriteUint16(buf []byte, pos *int, r uint16) {
	binary.BigEndian.PutUint16(buf[*pos:], r)
	*pos += 2
}

// WriteUint32 writes 32 bits.
func WriteUint32(buf []byte, pos *int, r uint32) {
	binary.BigEndian.PutUint32(buf[*pos:], r)
	*pos += 4
}

// WriteUint64 writes 64 bits.
func WriteUint64(buf []byte, pos *int, r uint64) {
	binary.BigEndian.PutUint64(buf[*pos:], r)
	*pos += 8
}
