//go:build windows

package transport

import (
	"net/netip"
	"sync"

	"golang.org/x/sys/windows"
)

var bootstrapOnce sync.Once
var bootstrapErr error

func ensureBootstrap() error {
	bootstrapOnce.Do(func() {
		bootstrapErr = bootstrap()
	})
	return bootstrapErr
}

const invalidFD = windows.InvalidHandle

// Handle is an owned OS socket, mirroring handle_unix.go's contract on
// top of the Winsock API instead of POSIX sockets.
type Handle struct {
	fd     windows.Handle
	family Family
}

// NewHandle creates a fresh non-blocking TCP stream socket for family.
func NewHandle(family Family) (*Handle, error) {
	if err := ensureBootstrap(); err != nil {
		return nil, err
	}
	af := windows.AF_INET
	if family == FamilyV6 {
		af = windows.AF_INET6
	}
	fd, err := windows.Socket(af, windows.SOCK_STREAM, windows.IPPROTO_TCP)
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

func invalidHandle(family Family) *Handle {
	return &Handle{fd: invalidFD, family: family}
}

func (h *Handle) Valid() bool {
	return h != nil && h.fd != invalidFD
}

func sockaddr(family Family, addr netip.Addr, port uint16) windows.Sockaddr {
	if family == FamilyV6 {
		sa := &windows.SockaddrInet6{Port: int(port)}
		sa.Addr = addr.As16()
		return sa
	}
	sa := &windows.SockaddrInet4{Port: int(port)}
	sa.Addr = addr.As4()
	return sa
}

// SetNonblocking toggles the FIONBIO ioctl, Winsock's equivalent of
// O_NONBLOCK.
func (h *Handle) SetNonblocking(nonblocking bool) error {
	if !h.Valid() {
		return nil
	}
	var mode uint32
	if nonblocking {
		mode = 1
	}
	if err := windows.IoctlSocket(h.fd, windows.FIONBIO, &mode); err != nil {
		return classify(err)
	}
	return nil
}

// SetReuseAddr sets SO_REUSEADDR.
func (h *Handle) SetReuseAddr(enable bool) error {
	if !h.Valid() {
		return nil
	}
	v := 0
	if enable {
		v = 1
	}
	if err := windows.SetsockoptInt(h.fd, windows.SOL_SOCKET, windows.SO_REUSEADDR, v); err != nil {
		return classify(err)
	}
	return nil
}

func (h *Handle) Bind(addr netip.Addr, port uint16) error {
	if err := windows.Bind(h.fd, sockaddr(h.family, addr, port)); err != nil {
		return classify(err)
	}
	return nil
}

func (h *Handle) Listen(backlog int) error {
	if err := windows.Listen(h.fd, backlog); err != nil {
		return classify(err)
	}
	return nil
}

// Accept accepts one pending connection, mirroring handle_unix.go: no
// pending connection on a non-blocking listener returns an invalid Handle
// and a nil error.
func (h *Handle) Accept() (*Handle, error) {
	fd, _, err := windows.Accept(h.fd)
	if err != nil {
		if IsWouldBlock(classify(err)) {
			return invalidHandle(h.family), nil
		}
		return nil, classify(err)
	}
	accepted := &Handle{fd: fd, family: h.family}
	if err := accepted.SetNonblocking(true); err != nil {
		accepted.Close()
		return nil, err
	}
	return accepted, nil
}

func (h *Handle) Connect(addr netip.Addr, port uint16) error {
	if err := windows.Connect(h.fd, sockaddr(h.family, addr, port)); err != nil {
		return classify(err)
	}
	return nil
}

func (h *Handle) Send(b []byte) (int, error) {
	n, err := windows.Write(h.fd, b)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// SendVectored transmits the concatenation of bufs. x/sys/windows has no
// WSASend wrapper taking multiple buffers, so this joins them into one
// buffer and issues a single Send, rather than the unix build's true
// vectored writev.
func (h *Handle) SendVectored(bufs [][]byte) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	joined := make([]byte, 0, total)
	for _, b := range bufs {
		joined = append(joined, b...)
	}
	return h.Send(joined)
}

func (h *Handle) Recv(buf []byte) (int, error) {
	n, err := windows.Read(h.fd, buf)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (h *Handle) Close() error {
	if !h.Valid() {
		return nil
	}
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = windows.Closesocket(h.fd)
		if err == nil {
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

func endpointFromSockaddr(sa windows.Sockaddr) EndpointInfo {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return EndpointInfo{IP: netip.AddrFrom4(a.Addr), Port: uint16(a.Port), Family: FamilyV4}
	case *windows.SockaddrInet6:
		return EndpointInfo{IP: netip.AddrFrom16(a.Addr), Port: uint16(a.Port), Family: FamilyV6}
	default:
		return EndpointInfo{}
	}
}

func (h *Handle) PeerInfo() (EndpointInfo, error) {
	sa, err := windows.Getpeername(h.fd)
	if err != nil {
		return EndpointInfo{}, classify(err)
	}
	return endpointFromSockaddr(sa), nil
}

func (h *Handle) LocalInfo() (EndpointInfo, error) {
	sa, err := windows.Getsockname(h.fd)
	if err != nil {
		return EndpointInfo{}, classify(err)
	}
	return endpointFromSockaddr(sa), nil
}

// FD exposes the raw handle for use by the Readiness Poller.
func (h *Handle) FD() windows.Handle {
	return h.fd
}
