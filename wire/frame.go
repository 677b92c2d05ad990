package wire

import "encoding/binary"

// HeaderSize is the size of the on-wire frame length prefix.
const HeaderSize = 4

// DefaultMaxFrameSize is the default ceiling on a frame's payload length,
// rejecting anything larger as resource-exhausted. Matches spec.md's
// stated 16 MiB default.
const DefaultMaxFrameSize = 16 << 20

// Frame serializes p as a 4-byte big-endian length header followed by p's
// bytes. This is the only place a big-endian integer appears on the wire;
// every other integer in the grammar is little-endian (see packet.go).
func Frame(p *Packet) []byte {
	out := make([]byte, HeaderSize+len(p.buf))
	binary.BigEndian.PutUint32(out, uint32(len(p.buf)))
	copy(out[HeaderSize:], p.buf)
	return out
}

// Deframe extracts one complete frame from the head of buf.
//
// If fewer than HeaderSize bytes are available, it returns (nil, 0, nil):
// no frame yet, buffer untouched. If the length header is present but the
// full payload is not yet available, it likewise returns no frame and
// leaves buf untouched. On success it returns the framed packet and the
// number of bytes consumed from the head of buf.
//
// maxFrameSize bounds the payload length; a header claiming more is a
// fatal resource-exhausted condition, reported via ErrFrameTooLarge.
func Deframe(buf []byte, maxFrameSize int) (pkt *Packet, consumed int, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}
	n := binary.BigEndian.Uint32(buf)
	if maxFrameSize > 0 && n > uint32(maxFrameSize) {
		return nil, 0, ErrFrameTooLarge
	}
	total := HeaderSize + int(n)
	if len(buf) < total {
		return nil, 0, nil
	}
	body := make([]byte, n)
	copy(body, buf[HeaderSize:total])
	return &Packet{buf: body}, total, nil
}
