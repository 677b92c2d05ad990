package channel

import (
	"fmt"
	"net/netip"

	"github.com/nullpeer/securepacket/ratelimiter"
	"github.com/nullpeer/securepacket/transport"
	"github.com/nullpeer/securepacket/wire"
)

// NoPeer is the sentinel id meaning "no such peer".
const NoPeer uint64 = ^uint64(0)

const defaultPollTimeoutMs = 10

// Event is one user-visible notification emitted by Server.Tick, drained
// by the caller between ticks per spec.md §9's "channel of event values"
// re-expression of the source's on_connect/on_disconnect/on_receive
// callbacks.
type Event struct {
	Kind    EventKind
	PeerID  uint64
	Payload []byte
	Err     error
}

type EventKind int

const (
	EventConnect EventKind = iota
	EventReceive
	EventDisconnect
)

// record is one entry in the driver's dense peer array.
type record struct {
	peer *Peer
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithLogger attaches a Logger; the default discards everything.
func WithLogger(l *Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithFrameSizeLimit overrides wire.DefaultMaxFrameSize for every peer
// this Server accepts.
func WithFrameSizeLimit(n int) ServerOption {
	return func(s *Server) { s.maxFrameSize = n }
}

// WithOutboundCap bounds per-peer outbound backpressure in bytes; zero
// means unbounded. Exceeding it is a resource-exhausted fatal condition
// for that peer, per spec.md §7.
func WithOutboundCap(n int) ServerOption {
	return func(s *Server) { s.outboundCap = n }
}

// WithPollTimeout overrides the per-tick poll(2) timeout in milliseconds;
// spec.md §4.7 defaults this to 10ms.
func WithPollTimeout(ms int) ServerOption {
	return func(s *Server) { s.pollTimeoutMs = ms }
}

// WithAcceptLimiter attaches a per-source-address accept-rate limiter,
// the hardening option spec.md §4.7 names for connection-flood
// resistance. The limiter must already be Init'd.
func WithAcceptLimiter(rl *ratelimiter.AcceptLimiter) ServerOption {
	return func(s *Server) { s.acceptLimit = rl }
}

// Server is the Multi-Peer Driver: an acceptor plus a dense table of Peer
// Records, ticked once per call with a single fair pass over every
// registered peer.
type Server struct {
	listener *transport.Handle
	family   transport.Family

	records []record
	byID    map[uint64]int
	nextID  uint64

	poller *transport.Poller
	dirty  bool

	toDisconnect []uint64

	maxFrameSize  int
	outboundCap   int
	pollTimeoutMs int
	acceptLimit   *ratelimiter.AcceptLimiter

	log *Logger
}

// NewServer binds a listening Transport Handle to addr:port and returns a
// Server ready to Tick.
func NewServer(addr netip.Addr, port uint16, opts ...ServerOption) (*Server, error) {
	family := transport.FamilyOf(addr)
	listener, err := transport.NewHandle(family)
	if err != nil {
		return nil, fmt.Errorf("channel: new listener: %w", err)
	}
	if err := listener.SetReuseAddr(true); err != nil {
		listener.Close()
		return nil, err
	}
	if err := listener.Bind(addr, port); err != nil {
		listener.Close()
		return nil, err
	}
	if err := listener.Listen(128); err != nil {
		listener.Close()
		return nil, err
	}

	s := &Server{
		listener:      listener,
		family:        family,
		byID:          make(map[uint64]int),
		poller:        transport.NewPoller(),
		dirty:         true,
		pollTimeoutMs: defaultPollTimeoutMs,
		maxFrameSize:  wire.DefaultMaxFrameSize,
		log:           DiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LocalInfo reports the listener's bound address.
func (s *Server) LocalInfo() (transport.EndpointInfo, error) {
	return s.listener.LocalInfo()
}

// PeerCount reports how many peers are currently tracked.
func (s *Server) PeerCount() int {
	return len(s.records)
}

// Lookup returns the Peer for id, or nil if no such peer is tracked.
func (s *Server) Lookup(id uint64) *Peer {
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.records[idx].peer
}

// Disconnect initiates a graceful teardown of id: the peer moves to
// StateDropping immediately, per spec.md §4.6, and Tick continues draining
// its outbound FIFO across subsequent ticks until it empties (or hits a
// fatal condition), at which point it is actually removed from the peer
// table. A no-op if id is not tracked.
func (s *Server) Disconnect(id uint64) {
	if peer := s.Lookup(id); peer != nil {
		peer.Drop()
	}
}

// finalize queues id for removal from the peer table at the end of the
// current tick, per spec.md §5's rule that the table never mutates
// mid-iteration. Unlike Disconnect, this skips draining — it is used once
// a peer is already fully drained or has hit a fatal condition that makes
// draining moot (a broken transport, a protocol violation, a resource cap).
func (s *Server) finalize(id uint64) {
	s.toDisconnect = append(s.toDisconnect, id)
}

// Stats reports the cumulative plaintext bytes sent to and received from
// the peer identified by id. Returns (0, 0) if id is not tracked.
func (s *Server) Stats(id uint64) (tx, rx uint64) {
	peer := s.Lookup(id)
	if peer == nil {
		return 0, 0
	}
	return peer.Stats()
}

// Tick runs the five-step algorithm from spec.md §4.7: drain the
// acceptor, rebuild the poller if the peer set changed, poll with a
// bounded timeout, dispatch per-result, then drain the disconnect list.
// It appends every user-visible notification to events and returns the
// extended slice.
func (s *Server) Tick(events []Event) []Event {
	events = s.drainAcceptor(events)

	if s.dirty {
		s.rebuildPoller()
	}

	if err := s.poller.Poll(s.pollTimeoutMs); err != nil {
		s.log.Errorf("server: poll: %v", err)
		return events
	}

	for {
		idx, res, ok := s.poller.NextResult()
		if !ok {
			break
		}
		if idx >= len(s.records) {
			continue
		}
		events = s.dispatch(idx, res, events)
	}

	events = s.drainDisconnects(events)
	return events
}

func (s *Server) drainAcceptor(events []Event) []Event {
	for {
		accepted, err := s.listener.Accept()
		if err != nil {
			s.log.Errorf("server: accept: %v", err)
			break
		}
		if !accepted.Valid() {
			break
		}

		if s.acceptLimit != nil {
			if info, err := accepted.PeerInfo(); err == nil {
				if !s.acceptLimit.Allow(info.IP) {
					s.log.Verbosef("server: rate-limited accept from %v", info.IP)
					accepted.Close()
					continue
				}
			}
		}

		id := s.nextID
		s.nextID++

		peer, err := NewPeer(id, accepted, RoleServer, s.maxFrameSize, s.log)
		if err != nil {
			s.log.Errorf("server: new peer: %v", err)
			accepted.Close()
			continue
		}
		peer.Open()

		s.byID[id] = len(s.records)
		s.records = append(s.records, record{peer: peer})
		s.dirty = true

		events = append(events, Event{Kind: EventConnect, PeerID: id})
	}
	return events
}

func (s *Server) rebuildPoller() {
	s.poller.Reset()
	s.poller.Reserve(len(s.records))
	for i := range s.records {
		s.poller.Add(s.records[i].peer.Handle())
	}
	s.dirty = false
}

func (s *Server) dispatch(idx int, res transport.Result, events []Event) []Event {
	peer := s.records[idx].peer
	id := peer.ID

	if res.Error || res.HangUp {
		// The transport itself is broken; there is nothing left to drain.
		s.finalize(id)
		return events
	}

	var received [][]byte
	ok := peer.Tick(res.Readable, res.Writable, func(payload []byte) {
		received = append(received, payload)
	})
	for _, payload := range received {
		events = append(events, Event{Kind: EventReceive, PeerID: id, Payload: payload})
	}

	if s.outboundCap > 0 && peer.Pending() > s.outboundCap {
		s.log.Errorf("%v - %v: outbound FIFO exceeds cap, dropping", peer, ErrResourceExhausted)
		ok = false
	}

	if !ok {
		s.finalize(id)
	}
	return events
}

func (s *Server) drainDisconnects(events []Event) []Event {
	if len(s.toDisconnect) == 0 {
		return events
	}
	for _, id := range s.toDisconnect {
		idx, found := s.byID[id]
		if !found {
			continue
		}
		peer := s.records[idx].peer
		peer.Close()

		last := len(s.records) - 1
		s.records[idx] = s.records[last]
		s.records = s.records[:last]
		if idx != last {
			s.byID[s.records[idx].peer.ID] = idx
		}
		delete(s.byID, id)
		s.dirty = true

		events = append(events, Event{Kind: EventDisconnect, PeerID: id})
	}
	s.toDisconnect = s.toDisconnect[:0]
	return events
}

// Close tears down every tracked peer and the listening handle.
func (s *Server) Close() error {
	for i := range s.records {
		s.records[i].peer.Close()
	}
	s.records = nil
	s.byID = make(map[uint64]int)
	if s.acceptLimit != nil {
		s.acceptLimit.Close()
	}
	return s.listener.Close()
}
