//go:build !windows

// Package transport owns the raw, non-blocking OS socket beneath the
// packet channel: the Transport Handle (this file) and the Readiness
// Poller (poller_unix.go). Both are thin layers over golang.org/x/sys/unix
// rather than net.Conn, because the spec requires explicit non-blocking
// control and a return-code taxonomy that net.Conn hides behind blocking
// semantics and *net.OpError values.
package transport

import (
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

var bootstrapOnce sync.Once
var bootstrapErr error

func ensureBootstrap() error {
	bootstrapOnce.Do(func() {
		bootstrapErr = bootstrap()
	})
	return bootstrapErr
}

// invalidFD is the sentinel held by a default-constructed or closed
// Handle. It is safe to Close an invalid Handle as a no-op.
const invalidFD = -1

// Handle is an owned OS socket. Exactly one Handle owns a given file
// descriptor at a time; it is not clonable, only movable (callers should
// pass it by pointer and never copy a live Handle struct).
type Handle struct {
	fd     int
	family Family
}

// NewHandle creates a fresh non-blocking TCP stream socket for family.
func NewHandle(family Family) (*Handle, error) {
	if err := ensureBootstrap(); err != nil {
		return nil, err
	}
	domain := unix.AF_INET
	if family == FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, classify(err)
	}
	h := &Handle{fd: fd, family: family}
	if err := h.SetNonblocking(true); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// invalidHandle wraps an already-invalid descriptor, e.g. the result of
// Accept when no connection is pending.
func invalidHandle(family Family) *Handle {
	return &Handle{fd: invalidFD, family: family}
}

// Valid reports whether h owns a live descriptor.
func (h *Handle) Valid() bool {
	return h != nil && h.fd != invalidFD
}

func sockaddr(family Family, addr netip.Addr, port uint16) unix.Sockaddr {
	if family == FamilyV6 {
		sa := &unix.SockaddrInet6{Port: int(port)}
		sa.Addr = addr.As16()
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	sa.Addr = addr.As4()
	return sa
}

// SetNonblocking toggles O_NONBLOCK on the underlying descriptor.
func (h *Handle) SetNonblocking(nonblocking bool) error {
	if !h.Valid() {
		return nil
	}
	if err := unix.SetNonblock(h.fd, nonblocking); err != nil {
		return classify(err)
	}
	return nil
}

// SetReuseAddr sets SO_REUSEADDR, allowing a listener to rebind a recently
// closed address.
func (h *Handle) SetReuseAddr(enable bool) error {
	if !h.Valid() {
		return nil
	}
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(h.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v); err != nil {
		return classify(err)
	}
	return nil
}

// Bind binds the socket to addr:port.
func (h *Handle) Bind(addr netip.Addr, port uint16) error {
	if err := unix.Bind(h.fd, sockaddr(h.family, addr, port)); err != nil {
		return classify(err)
	}
	return nil
}

// Listen marks the socket as a listener with the given backlog.
func (h *Handle) Listen(backlog int) error {
	if err := unix.Listen(h.fd, backlog); err != nil {
		return classify(err)
	}
	return nil
}

// Accept accepts one pending connection. On a non-blocking listener with
// no connection pending, it returns an invalid Handle and a nil error —
// per spec.md §4.1 this is not an error condition.
func (h *Handle) Accept() (*Handle, error) {
	fd, _, err := unix.Accept4(h.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if IsWouldBlock(classify(err)) {
			return invalidHandle(h.family), nil
		}
		return nil, classify(err)
	}
	return &Handle{fd: fd, family: h.family}, nil
}

// Connect initiates a connection to addr:port. On a non-blocking socket
// this routinely returns a would-block Outcome; the caller polls for
// writability to learn when the connection completes.
func (h *Handle) Connect(addr netip.Addr, port uint16) error {
	if err := unix.Connect(h.fd, sockaddr(h.family, addr, port)); err != nil {
		return classify(err)
	}
	return nil
}

// Send writes bytes to the socket. A negative-outcome return (surfaced as
// an error) must be checked with IsWouldBlock before being treated as
// fatal.
func (h *Handle) Send(b []byte) (int, error) {
	n, err := unix.Write(h.fd, b)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// maxIovecs bounds the stack-allocated fast path for SendVectored; beyond
// this the call falls back to a heap-allocated iovec array.
const maxIovecs = 32

// SendVectored transmits the concatenation of bufs in a single syscall,
// returning the total bytes the kernel accepted (which may be less than
// requested on a partial write).
func (h *Handle) SendVectored(bufs [][]byte) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	if len(bufs) <= maxIovecs {
		var stackBufs [maxIovecs][]byte
		n := copy(stackBufs[:], bufs)
		return h.writev(stackBufs[:n])
	}
	return h.writev(bufs)
}

func (h *Handle) writev(bufs [][]byte) (int, error) {
	n, err := unix.Writev(h.fd, bufs)
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

// Recv reads up to len(buf) bytes. A zero return with a nil error means
// the peer closed the write half (orderly shutdown); the caller must
// treat this as graceful close, not as "zero bytes, try again".
func (h *Handle) Recv(buf []byte) (int, error) {
	n, err := unix.Read(h.fd, buf)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Close releases the underlying descriptor. Closing an already-invalid
// Handle is a no-op. Up to 5 close attempts are made if the kernel
// reports EINTR; all but the final failure are advisory.
func (h *Handle) Close() error {
	if !h.Valid() {
		return nil
	}
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = unix.Close(h.fd)
		if err != unix.EINTR {
			break
		}
	}
	h.fd = invalidFD
	if err != nil {
		return classify(err)
	}
	return nil
}

// EndpointInfo is the human-readable form of a local or peer address.
type EndpointInfo struct {
	IP     netip.Addr
	Port   uint16
	Family Family
}

func (e EndpointInfo) String() string {
	return netip.AddrPortFrom(e.IP, e.Port).String()
}

func endpointFromSockaddr(sa unix.Sockaddr) EndpointInfo {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return EndpointInfo{IP: netip.AddrFrom4(a.Addr), Port: uint16(a.Port), Family: FamilyV4}
	case *unix.SockaddrInet6:
		return EndpointInfo{IP: netip.AddrFrom16(a.Addr), Port: uint16(a.Port), Family: FamilyV6}
	default:
		return EndpointInfo{}
	}
}

// PeerInfo queries the kernel for the remote address of a connected
// socket.
func (h *Handle) PeerInfo() (EndpointInfo, error) {
	sa, err := unix.Getpeername(h.fd)
	if err != nil {
		return EndpointInfo{}, classify(err)
	}
	return endpointFromSockaddr(sa), nil
}

// LocalInfo queries the kernel for the local address of a socket.
func (h *Handle) LocalInfo() (EndpointInfo, error) {
	sa, err := unix.Getsockname(h.fd)
	if err != nil {
		return EndpointInfo{}, classify(err)
	}
	return endpointFromSockaddr(sa), nil
}

// FD exposes the raw descriptor for use by the Readiness Poller. Not part
// of the portable contract; confined to this module.
func (h *Handle) FD() int {
	return h.fd
}
