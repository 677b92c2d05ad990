// Package stream implements the per-connection byte pipe: an unbounded
// inbound buffer fed by readable ticks, and a FIFO of outbound buffers
// drained by writable ticks.
package stream

import (
	"github.com/nullpeer/securepacket/transport"
)

// Outcome classifies the result of a single Tick call.
type Outcome int

const (
	// OutcomeOK means zero or more bytes moved; keep this peer.
	OutcomeOK Outcome = iota
	// OutcomeGracefulClose means the peer half-closed its write side.
	OutcomeGracefulClose
	// OutcomeError means a fatal transport error occurred.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeGracefulClose:
		return "graceful-close"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// readChunk bounds a single recv(2) call; DefaultReadCap bounds the total
// bytes drained in one readable tick.
const (
	readChunk      = 16 << 10
	DefaultReadCap = 16 << 10
)

// outboundBuffer is one queued write: owned bytes plus a head offset
// marking how much of it has already reached the kernel.
type outboundBuffer struct {
	data   []byte
	offset int
}

func (b *outboundBuffer) remaining() []byte {
	return b.data[b.offset:]
}

// Engine is the per-connection byte pipe bound to one transport.Handle.
// It owns the inbound accumulation buffer and the outbound FIFO; only the
// head entry of the FIFO may carry a nonzero offset.
type Engine struct {
	handle *transport.Handle

	inbound []byte
	queue   []outboundBuffer

	readCap int
}

// NewEngine binds a stream Engine to handle. readCap bounds the number of
// bytes drained from the kernel per readable tick; zero selects
// DefaultReadCap.
func NewEngine(handle *transport.Handle, readCap int) *Engine {
	if readCap <= 0 {
		readCap = DefaultReadCap
	}
	return &Engine{handle: handle, readCap: readCap}
}

// Inbound returns the bytes accumulated so far, appended to on every
// readable tick and shrunk only by Consume.
func (e *Engine) Inbound() []byte {
	return e.inbound
}

// Consume discards the first n bytes of the inbound buffer, called by a
// caller after a codec successfully deframes a prefix of it.
func (e *Engine) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(e.inbound) {
		e.inbound = e.inbound[:0]
		return
	}
	copy(e.inbound, e.inbound[n:])
	e.inbound = e.inbound[:len(e.inbound)-n]
}

// Enqueue appends an outbound buffer to the tail of the FIFO. Never
// blocks, never fails; ownership of b transfers to the Engine.
func (e *Engine) Enqueue(b []byte) {
	if len(b) == 0 {
		return
	}
	e.queue = append(e.queue, outboundBuffer{data: b})
}

// Pending reports the number of bytes still queued for transmission
// across every buffer in the FIFO, for backpressure decisions by the
// driver.
func (e *Engine) Pending() int {
	total := 0
	for i := range e.queue {
		total += len(e.queue[i].remaining())
	}
	return total
}

// QueueDepth reports the number of distinct outbound buffers still
// queued.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// Tick drains the socket when readable and/or writable, returning the
// coalesced Outcome for this call.
func (e *Engine) Tick(readable, writable bool) Outcome {
	if readable {
		if out := e.ingress(); out != OutcomeOK {
			return out
		}
	}
	if writable {
		if out := e.egress(); out != OutcomeOK {
			return out
		}
	}
	return OutcomeOK
}

// ingress drains as much as the kernel offers, in fixed-size reads, until
// would-block or the per-tick cap is reached.
func (e *Engine) ingress() Outcome {
	moved := 0
	buf := make([]byte, readChunk)
	for moved < e.readCap {
		n, err := e.handle.Recv(buf)
		if err != nil {
			if transport.IsWouldBlock(err) {
				return OutcomeOK
			}
			return OutcomeError
		}
		if n == 0 {
			// recv returning 0 with no error means the peer closed its
			// write half; a subsequent readable signal with zero bytes
			// and no would-block is the same condition.
			return OutcomeGracefulClose
		}
		e.inbound = append(e.inbound, buf[:n]...)
		moved += n
		if n < len(buf) {
			// short read: kernel has nothing more buffered right now.
			return OutcomeOK
		}
	}
	return OutcomeOK
}

// egress performs one vectored send of the head buffer (from its current
// offset) followed by every subsequent queued buffer in full, then
// applies the accepted byte count by advancing the head offset and
// popping fully-consumed buffers left to right.
func (e *Engine) egress() Outcome {
	if len(e.queue) == 0 {
		return OutcomeOK
	}
	bufs := make([][]byte, 0, len(e.queue))
	for i := range e.queue {
		bufs = append(bufs, e.queue[i].remaining())
	}
	n, err := e.handle.SendVectored(bufs)
	if err != nil {
		if transport.IsWouldBlock(err) {
			return OutcomeOK
		}
		return OutcomeError
	}
	e.applyWritten(n)
	return OutcomeOK
}

func (e *Engine) applyWritten(n int) {
	i := 0
	for n > 0 && i < len(e.queue) {
		rem := len(e.queue[i].remaining())
		if n < rem {
			e.queue[i].offset += n
			n = 0
			break
		}
		n -= rem
		i++
	}
	if i > 0 {
		e.queue = append(e.queue[:0], e.queue[i:]...)
	}
}
