package channel

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nullpeer/securepacket/session"
	"github.com/nullpeer/securepacket/stream"
	"github.com/nullpeer/securepacket/transport"
	"github.com/nullpeer/securepacket/wire"
)

// State is one position in the Peer Channel's state machine.
type State int

const (
	StateFresh State = iota
	StateAwaitingPeerPublic
	StateEstablished
	StateDropping
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateAwaitingPeerPublic:
		return "awaiting-peer-public"
	case StateEstablished:
		return "established"
	case StateDropping:
		return "dropping"
	default:
		return "unknown"
	}
}

// ErrProtocolViolation marks an unexpected frame for the peer's current
// state: a user-defined frame before the handshake, or a second
// handshake frame once established.
var ErrProtocolViolation = errors.New("channel: protocol violation")

// ErrResourceExhausted marks a frame or queue that exceeds a configured
// ceiling.
var ErrResourceExhausted = errors.New("channel: resource exhausted")

// maxDrainTicks bounds how many ticks a peer may spend in StateDropping
// before it is finalized regardless of remaining outbound backlog, per
// spec.md §4.6's "drain until empty or fatal" — a receiver that stops
// reading must not pin a slot in the peer table forever.
const maxDrainTicks = 256

// Role distinguishes which side of the handshake a Peer plays, since the
// server replies with its own public key and the client does not.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Peer binds one Transport Handle, one Stream Engine, and one Crypto
// Session, and drives the frame-level state machine described by State.
type Peer struct {
	ID   uint64
	role Role

	handle  *transport.Handle
	engine  *stream.Engine
	session *session.Session

	state State

	remotePublic    session.PublicKey
	remotePublicSet bool

	txBytes atomic.Uint64
	rxBytes atomic.Uint64

	dropTicks int

	maxFrameSize int
	log          *Logger
}

// NewPeer constructs a fresh Peer bound to handle, in StateFresh. The
// caller must call Open to move it to StateAwaitingPeerPublic and start
// the handshake exchange.
func NewPeer(id uint64, handle *transport.Handle, role Role, maxFrameSize int, log *Logger) (*Peer, error) {
	sess, err := session.New()
	if err != nil {
		return nil, fmt.Errorf("channel: new session for peer %d: %w", id, err)
	}
	if log == nil {
		log = DiscardLogger()
	}
	if maxFrameSize <= 0 {
		maxFrameSize = wire.DefaultMaxFrameSize
	}
	return &Peer{
		ID:           id,
		role:         role,
		handle:       handle,
		engine:       stream.NewEngine(handle, 0),
		session:      sess,
		state:        StateFresh,
		maxFrameSize: maxFrameSize,
		log:          log,
	}, nil
}

// String renders an abbreviated identity for log lines: the peer id next
// to a shortened base64 encoding of its remote public key once the
// handshake has delivered one, mirroring the teacher's "peer(XXXX…YYYY)"
// debug format for a crypto identity that a bare numeric id can't convey.
func (p *Peer) String() string {
	if !p.remotePublicSet {
		return fmt.Sprintf("peer(%d,pending)", p.ID)
	}
	full := base64.StdEncoding.EncodeToString(p.remotePublic[:])
	if len(full) < 8 {
		return fmt.Sprintf("peer(%d,%s)", p.ID, full)
	}
	return fmt.Sprintf("peer(%d,%s…%s)", p.ID, full[:4], full[len(full)-4:])
}

// Stats reports the cumulative plaintext bytes sent to and received from
// this peer.
func (p *Peer) Stats() (tx, rx uint64) {
	return p.txBytes.Load(), p.rxBytes.Load()
}

// State reports the peer's current position in the state machine.
func (p *Peer) State() State {
	return p.state
}

// Session exposes the underlying crypto session, mainly for tests.
func (p *Peer) Session() *session.Session {
	return p.session
}

// Open transitions fresh → awaiting-peer-public and, for the client role,
// enqueues the initial handshake frame carrying the local public key.
func (p *Peer) Open() {
	p.state = StateAwaitingPeerPublic
	if p.role == RoleClient {
		p.sendHandshake()
	}
}

func (p *Peer) sendHandshake() {
	pub := p.session.LocalPublic()
	pkt := wire.NewPacket()
	pkt.WriteUint8(uint8(wire.TagHandshake))
	pkt.WriteBytes(pub[:])
	p.engine.Enqueue(wire.Frame(pkt))
	p.log.Verbosef("%v - sending handshake", p)
}

// Tick drains the transport and dispatches every complete frame the
// inbound buffer yields, invoking onReceive for each user-defined
// payload. It returns false once the peer should be torn down.
//
// Once Drop has moved the peer to StateDropping, Tick stops dispatching
// inbound frames and only drains the outbound FIFO, returning false (torn
// down) once it empties, a transport error surfaces, or maxDrainTicks is
// exceeded.
func (p *Peer) Tick(readable, writable bool, onReceive func(payload []byte)) bool {
	if p.state == StateDropping {
		p.dropTicks++
		if p.dropTicks > maxDrainTicks {
			p.log.Verbosef("%v - drain exceeded %d ticks, closing", p, maxDrainTicks)
			return false
		}
		out := p.engine.Tick(false, writable)
		return out == stream.OutcomeOK && p.engine.Pending() > 0
	}

	out := p.engine.Tick(readable, writable)
	if out == stream.OutcomeGracefulClose {
		p.log.Verbosef("%v - graceful close", p)
		return false
	}
	if out == stream.OutcomeError {
		p.log.Errorf("%v - transport error", p)
		return false
	}

	for {
		pkt, consumed, err := wire.Deframe(p.engine.Inbound(), p.maxFrameSize)
		if err != nil {
			p.log.Errorf("%v - deframe: %v", p, err)
			return false
		}
		if pkt == nil {
			return true
		}
		p.engine.Consume(consumed)
		if err := p.dispatch(pkt, onReceive); err != nil {
			p.log.Errorf("%v - dispatch: %v", p, err)
			return false
		}
	}
}

func (p *Peer) dispatch(pkt *wire.Packet, onReceive func(payload []byte)) error {
	tag, err := pkt.ReadUint8()
	if err != nil {
		return err
	}

	switch wire.Tag(tag) {
	case wire.TagHandshake:
		return p.onHandshake(pkt)
	case wire.TagUserDefined:
		return p.onUserDefined(pkt, onReceive)
	default:
		return fmt.Errorf("%w: unknown tag %d", ErrProtocolViolation, tag)
	}
}

func (p *Peer) onHandshake(pkt *wire.Packet) error {
	if p.state != StateAwaitingPeerPublic {
		return fmt.Errorf("%w: handshake frame while %v", ErrProtocolViolation, p.state)
	}
	raw, err := pkt.ReadBytes(session.KeySize)
	if err != nil {
		return err
	}
	var peerPublic session.PublicKey
	copy(peerPublic[:], raw)

	if err := p.session.Derive(peerPublic); err != nil {
		return err
	}
	p.remotePublic = peerPublic
	p.remotePublicSet = true
	p.state = StateEstablished
	p.log.Verbosef("%v - established", p)
	if p.role == RoleServer {
		p.sendHandshake()
	}
	return nil
}

func (p *Peer) onUserDefined(pkt *wire.Packet, onReceive func(payload []byte)) error {
	if p.state != StateEstablished {
		return fmt.Errorf("%w: user-defined frame while %v", ErrProtocolViolation, p.state)
	}
	mac, err := pkt.ReadBytes(session.TagSize)
	if err != nil {
		return err
	}
	cipherBody, err := pkt.ReadByteSequence()
	if err != nil {
		return err
	}
	sealed := make([]byte, 0, len(cipherBody)+len(mac))
	sealed = append(sealed, cipherBody...)
	sealed = append(sealed, mac...)

	plaintext, err := p.session.Unwrap(sealed)
	if err != nil {
		return err
	}
	p.rxBytes.Add(uint64(len(plaintext)))
	if onReceive != nil {
		onReceive(plaintext)
	}
	return nil
}

// Send wraps payload under the current outbound counter and enqueues the
// resulting user-defined frame. Only valid once the peer is established.
func (p *Peer) Send(payload []byte) error {
	if p.state != StateEstablished {
		return fmt.Errorf("channel: send before established (state=%v)", p.state)
	}
	sealed, err := p.session.Wrap(payload)
	if err != nil {
		return err
	}
	tagStart := len(sealed) - session.TagSize
	cipherBody := sealed[:tagStart]
	mac := sealed[tagStart:]

	pkt := wire.NewPacket()
	pkt.WriteUint8(uint8(wire.TagUserDefined))
	pkt.WriteBytes(mac)
	pkt.WriteByteSequence(cipherBody)
	p.engine.Enqueue(wire.Frame(pkt))
	p.txBytes.Add(uint64(len(payload)))
	return nil
}

// Pending reports outbound backpressure in bytes, for the driver's
// resource-exhausted cap.
func (p *Peer) Pending() int {
	return p.engine.Pending()
}

// Drop transitions the peer to StateDropping: no further inbound frames
// are dispatched, but the outbound FIFO continues to drain until empty
// or fatal.
func (p *Peer) Drop() {
	p.state = StateDropping
}

// Close releases the peer's session secrets and transport handle.
func (p *Peer) Close() error {
	p.session.Close()
	return p.handle.Close()
}

// Handle exposes the underlying transport handle, used by the driver to
// register the peer with the poller.
func (p *Peer) Handle() *transport.Handle {
	return p.handle
}
