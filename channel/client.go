package channel

import (
	"fmt"
	"net/netip"

	"github.com/nullpeer/securepacket/transport"
	"github.com/nullpeer/securepacket/wire"
)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger attaches a Logger; the default discards everything.
func WithClientLogger(l *Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClientFrameSizeLimit overrides wire.DefaultMaxFrameSize.
func WithClientFrameSizeLimit(n int) ClientOption {
	return func(c *Client) { c.maxFrameSize = n }
}

// WithIdleTick registers a hook invoked once per Tick after I/O
// dispatch, regardless of readiness. Supplementing the base protocol
// with an optional keepalive-shaped idle hook the caller can use to
// enqueue a periodic application-level ping.
func WithIdleTick(fn func(*Client)) ClientOption {
	return func(c *Client) { c.onIdle = fn }
}

// Client is the single-peer Client Driver: one Peer Channel plus a tick
// entry point and a user-supplied receive callback.
type Client struct {
	peer *Peer

	maxFrameSize int
	log          *Logger
	onIdle       func(*Client)

	onReceive    func(payload []byte)
	onDisconnect func(err error)
}

// Dial connects to addr:port and opens the handshake, returning a Client
// once the underlying connect() call has been issued (not necessarily
// completed; non-blocking connects finish asynchronously and the caller
// must Tick until the peer reaches StateEstablished).
func Dial(addr netip.Addr, port uint16, opts ...ClientOption) (*Client, error) {
	family := transport.FamilyOf(addr)
	handle, err := transport.NewHandle(family)
	if err != nil {
		return nil, fmt.Errorf("channel: new handle: %w", err)
	}

	c := &Client{
		maxFrameSize: wire.DefaultMaxFrameSize,
		log:          DiscardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := handle.Connect(addr, port); err != nil && !transport.IsWouldBlock(err) {
		handle.Close()
		return nil, err
	}

	peer, err := NewPeer(0, handle, RoleClient, c.maxFrameSize, c.log)
	if err != nil {
		handle.Close()
		return nil, err
	}
	peer.Open()
	c.peer = peer
	return c, nil
}

// OnReceive registers the callback invoked for every decrypted
// user-defined payload.
func (c *Client) OnReceive(fn func(payload []byte)) {
	c.onReceive = fn
}

// OnDisconnect registers the callback invoked once, the tick the peer is
// torn down. err is non-nil only for a poll failure or a poller-reported
// error/hang-up; it is nil whenever the Peer Channel ends the connection
// itself, whether by graceful close, a transport error during I/O, or a
// rejected frame.
func (c *Client) OnDisconnect(fn func(err error)) {
	c.onDisconnect = fn
}

// State reports the underlying Peer Channel's state.
func (c *Client) State() State {
	return c.peer.State()
}

// Send wraps and enqueues payload. Only valid once State() is
// StateEstablished.
func (c *Client) Send(payload []byte) error {
	return c.peer.Send(payload)
}

// Tick polls the single underlying handle with timeoutMs and drives the
// Peer Channel's state machine once. It returns false once the
// connection has been torn down and the Client should not be ticked
// again.
func (c *Client) Tick(timeoutMs int) bool {
	poller := transport.NewPoller()
	poller.Add(c.peer.Handle())
	if err := poller.Poll(timeoutMs); err != nil {
		c.log.Errorf("client: poll: %v", err)
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
		c.peer.Close()
		return false
	}

	_, res, ok := poller.NextResult()
	if !ok {
		return true
	}
	if res.Error || res.HangUp {
		c.peer.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(fmt.Errorf("channel: transport error/hangup"))
		}
		return false
	}

	alive := c.peer.Tick(res.Readable, res.Writable, c.onReceive)
	if !alive {
		c.peer.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(nil)
		}
		return false
	}

	if c.onIdle != nil {
		c.onIdle(c)
	}
	return true
}

// Close tears down the underlying peer and transport handle.
func (c *Client) Close() error {
	return c.peer.Close()
}
