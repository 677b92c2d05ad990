// Package wire implements the packet codec: an in-memory typed buffer with
// a read cursor, and the length-prefixed framing used to carry it over a
// byte stream.
//
// A Packet is append-only on write and cursor-advancing on read. Every read
// either succeeds and advances the cursor, or returns ErrUnderflow and
// leaves the cursor untouched; the codec never panics on short input.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrUnderflow is returned by any read that would consume bytes past the
// packet's tail. The cursor is left where it was; the caller may retry
// once more bytes are available, or discard the frame.
var ErrUnderflow = errors.New("wire: frame underflow")

// ErrFrameTooLarge is returned by Deframe when a frame's declared length
// exceeds the configured ceiling. Fatal for the connection it came from.
var ErrFrameTooLarge = errors.New("wire: frame exceeds size ceiling")

// Packet is an owned byte sequence plus a read cursor. The zero value is a
// valid, empty, writable packet.
type Packet struct {
	buf    []byte
	cursor int
}

// NewPacket returns an empty packet ready for writing.
func NewPacket() *Packet {
	return &Packet{}
}

// NewPacketFromView copies b into a new packet, cursor at zero.
func NewPacketFromView(b []byte) *Packet {
	p := &Packet{buf: make([]byte, len(b))}
	copy(p.buf, b)
	return p
}

// NewPacketFromOwned wraps b without copying; the caller must not retain a
// writable alias to b afterward.
func NewPacketFromOwned(b []byte) *Packet {
	return &Packet{buf: b}
}

// Valid reports whether the packet is non-nil and holds any bytes. Deframe
// reports "no frame available" as a nil packet; a zero-length frame
// deframes to a non-nil packet for which Valid is false.
func (p *Packet) Valid() bool {
	return p != nil && len(p.buf) > 0
}

// Len returns the total number of bytes in the packet, independent of the
// read cursor.
func (p *Packet) Len() int {
	return len(p.buf)
}

// Remaining returns the number of unread bytes.
func (p *Packet) Remaining() int {
	return len(p.buf) - p.cursor
}

// Bytes returns the packet's full underlying byte sequence. The caller must
// not mutate it.
func (p *Packet) Bytes() []byte {
	return p.buf
}

// Reset rewinds the read cursor to the start without discarding bytes.
func (p *Packet) Reset() {
	p.cursor = 0
}

// appendRaw appends b to the tail of the packet, unconditionally.
func (p *Packet) appendRaw(b []byte) {
	p.buf = append(p.buf, b...)
}

// WriteBytes appends the raw bytes of b with no length prefix. Used for
// already-framed payloads such as MACs.
func (p *Packet) WriteBytes(b []byte) {
	p.appendRaw(b)
}

// ReadBytes consumes exactly n raw bytes with no length prefix.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	if p.Remaining() < n {
		return nil, ErrUnderflow
	}
	out := p.buf[p.cursor : p.cursor+n]
	p.cursor += n
	return out, nil
}

// WriteUint8 appends a single byte.
func (p *Packet) WriteUint8(v uint8) {
	p.appendRaw([]byte{v})
}

// ReadUint8 consumes a single byte.
func (p *Packet) ReadUint8() (uint8, error) {
	b, err := p.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteUint32 appends a 4-byte little-endian integer. All inner counts and
// lengths in the grammar are little-endian; only the outer frame length
// (see frame.go) is big-endian on the wire.
func (p *Packet) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.appendRaw(b[:])
}

// ReadUint32 consumes a 4-byte little-endian integer.
func (p *Packet) ReadUint32() (uint32, error) {
	b, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint64 appends an 8-byte little-endian integer.
func (p *Packet) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.appendRaw(b[:])
}

// ReadUint64 consumes an 8-byte little-endian integer.
func (p *Packet) ReadUint64() (uint64, error) {
	b, err := p.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteText writes a 4-byte length followed by the UTF-8 bytes of s.
func (p *Packet) WriteText(s string) {
	p.WriteUint32(uint32(len(s)))
	p.appendRaw([]byte(s))
}

// ReadText reads a 4-byte length followed by that many bytes, returned as a
// string. Leaves the cursor untouched on underflow.
func (p *Packet) ReadText() (string, error) {
	mark := p.cursor
	n, err := p.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := p.ReadBytes(int(n))
	if err != nil {
		p.cursor = mark
		return "", err
	}
	return string(b), nil
}

// WriteByteSequence writes a 4-byte length followed by b's bytes.
func (p *Packet) WriteByteSequence(b []byte) {
	p.WriteUint32(uint32(len(b)))
	p.appendRaw(b)
}

// ReadByteSequence reads a 4-byte length followed by that many bytes.
func (p *Packet) ReadByteSequence() ([]byte, error) {
	mark := p.cursor
	n, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := p.ReadBytes(int(n))
	if err != nil {
		p.cursor = mark
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// WriteNestedPacket writes a 4-byte length followed by the nested packet's
// bytes.
func (p *Packet) WriteNestedPacket(nested *Packet) {
	p.WriteByteSequence(nested.buf)
}

// ReadNestedPacket reads a 4-byte length followed by that many bytes and
// wraps them in a new Packet with its own cursor at zero.
func (p *Packet) ReadNestedPacket() (*Packet, error) {
	b, err := p.ReadByteSequence()
	if err != nil {
		return nil, err
	}
	return &Packet{buf: b}, nil
}

// WriteUint32Seq writes a 4-byte count followed by each element, a
// concrete instance of the "homogeneous sequence" grammar variant for the
// common case of a uint32 element type.
func (p *Packet) WriteUint32Seq(vs []uint32) {
	p.WriteUint32(uint32(len(vs)))
	for _, v := range vs {
		p.WriteUint32(v)
	}
}

// ReadUint32Seq reads a 4-byte count followed by that many uint32 elements.
// Leaves the cursor untouched if the sequence is truncated partway through.
func (p *Packet) ReadUint32Seq() ([]uint32, error) {
	mark := p.cursor
	n, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	// n comes straight off the wire; cap the preallocation at what the
	// remaining buffer could actually hold instead of trusting it, so a
	// corrupt or adversarial count can't force a multi-gigabyte allocation
	// before the underflow check below ever runs.
	prealloc := n
	if maxPossible := uint32(len(p.buf)-p.cursor) / 4; prealloc > maxPossible {
		prealloc = maxPossible
	}
	out := make([]uint32, 0, prealloc)
	for i := uint32(0); i < n; i++ {
		v, err := p.ReadUint32()
		if err != nil {
			p.cursor = mark
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
