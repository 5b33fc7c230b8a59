package bmff

import (
	"fmt"
)

// Box is one parsed box. Container boxes hold Children and a nil
// Payload; leaf boxes hold their payload as a sub-slice of the parsed
// buffer.
type Box struct {
	Type       BoxType
	Size       uint64 // total size including header
	Offset     uint64 // file offset of the box start
	HeaderSize int

	Payload  []byte
	Children []*Box
}

// PayloadOffset returns the file offset of the box payload.
func (b *Box) PayloadOffset() uint64 {
	return b.Offset + uint64(b.HeaderSize)
}

// ParseBoxes parses a sequence of sibling boxes covering buf.
//
// Malformed boxes terminate their container: a warning is passed to
// warn (if non-nil) and the siblings parsed so far are kept. Container
// types descend recursively; everything else keeps its payload opaque.
func ParseBoxes(buf []byte, warn func(error)) []*Box {
	return parseBoxes(buf, 0, warn)
}

func parseBoxes(buf []byte, base uint64, warn func(error)) []*Box {
	var boxes []*Box
	pos := 0

	for len(buf)-pos >= 8 {
		box, err := parseBox(buf, pos, base)
		if err != nil {
			if warn != nil {
				warn(err)
			}
			break
		}

		if IsContainer(box.Type) {
			payload := box.Payload
			childBase := box.PayloadOffset()

			// meta is a full box: version and flags precede the children.
			if box.Type == TypeMeta && len(payload) >= 4 {
				payload = payload[4:]
				childBase += 4
			}

			box.Children = parseBoxes(payload, childBase, warn)
			box.Payload = nil
		}

		boxes = append(boxes, box)
		pos += int(box.Size)
	}

	return boxes
}

func parseBox(buf []byte, pos int, base uint64) (*Box, error) {
	r := NewReader(buf)
	r.Seek(pos)

	size := uint64(r.Uint32())
	typ := r.FourCC()
	headerSize := 8

	switch size {
	case 1:
		// Extended 64-bit size.
		size = r.Uint64()
		headerSize = 16
	case 0:
		// Box extends to the end of the enclosing space.
		size = uint64(len(buf) - pos)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	if size < uint64(headerSize) {
		return nil, fmt.Errorf("%w: box '%s' at %d: size %d smaller than header",
			ErrInvalidBoxSize, typ, base+uint64(pos), size)
	}
	if uint64(pos)+size > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: box '%s' at %d: size %d crosses parent end",
			ErrInvalidBoxSize, typ, base+uint64(pos), size)
	}

	return &Box{
		Type:       typ,
		Size:       size,
		Offset:     base + uint64(pos),
		HeaderSize: headerSize,
		Payload:    buf[pos+headerSize : uint64(pos)+size],
	}, nil
}

// Find returns the first box of the given type in pre-order, or nil.
func Find(boxes []*Box, t BoxType) *Box {
	for _, b := range boxes {
		if b.Type == t {
			return b
		}
		if found := Find(b.Children, t); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every box of the given type in pre-order.
func FindAll(boxes []*Box, t BoxType) []*Box {
	var out []*Box
	for _, b := range boxes {
		if b.Type == t {
			out = append(out, b)
		}
		out = append(out, FindAll(b.Children, t)...)
	}
	return out
}

// FindPath descends one level per type and returns the box at the end
// of the path, or nil. Only direct children are considered at each
// step.
func FindPath(boxes []*Box, path ...BoxType) *Box {
	var cur *Box
	for _, t := range path {
		cur = nil
		for _, b := range boxes {
			if b.Type == t {
				cur = b
				break
			}
		}
		if cur == nil {
			return nil
		}
		boxes = cur.Children
	}
	return cur
}
