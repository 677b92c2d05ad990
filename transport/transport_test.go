package transport

import (
	"net/netip"
	"testing"
	"time"
)

func mustListener(t *testing.T) (*Handle, netip.Addr, uint16) {
	t.Helper()
	addr := netip.MustParseAddr("127.0.0.1")
	listener, err := NewHandle(FamilyOf(addr))
	if err != nil {
		t.Fatalf("new listener handle: %v", err)
	}
	if err := listener.SetReuseAddr(true); err != nil {
		listener.Close()
		t.Fatalf("set reuse addr: %v", err)
	}
	if err := listener.Bind(addr, 0); err != nil {
		listener.Close()
		t.Fatalf("bind: %v", err)
	}
	if err := listener.Listen(8); err != nil {
		listener.Close()
		t.Fatalf("listen: %v", err)
	}
	info, err := listener.LocalInfo()
	if err != nil {
		listener.Close()
		t.Fatalf("local info: %v", err)
	}
	return listener, addr, info.Port
}

// TestAcceptIsNonBlocking exercises spec.md §4.1: Accept on a listener with
// nothing pending must return an invalid Handle and a nil error, never a
// blocking wait or an error value.
func TestAcceptIsNonBlocking(t *testing.T) {
	listener, _, _ := mustListener(t)
	defer listener.Close()

	accepted, err := listener.Accept()
	if err != nil {
		t.Fatalf("accept with nothing pending: %v", err)
	}
	if accepted.Valid() {
		t.Fatalf("accept with nothing pending returned a valid handle")
	}
}

// TestConnectAcceptRoundTrip drives a real loopback TCP handshake through
// the readiness poller and confirms bytes survive the non-blocking
// send/recv path end to end.
func TestConnectAcceptRoundTrip(t *testing.T) {
	listener, addr, port := mustListener(t)
	defer listener.Close()

	client, err := NewHandle(FamilyOf(addr))
	if err != nil {
		t.Fatalf("new client handle: %v", err)
	}
	defer client.Close()

	if err := client.Connect(addr, port); err != nil && !IsWouldBlock(err) {
		t.Fatalf("connect: %v", err)
	}

	poller := NewPoller()
	var server *Handle
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		accepted, err := listener.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if accepted.Valid() {
			server = accepted
			break
		}
		poller.Reset()
		poller.Reserve(1)
		poller.Add(client)
		if err := poller.Poll(50); err != nil {
			t.Fatalf("poll: %v", err)
		}
	}
	if server == nil {
		t.Fatal("server side never accepted within deadline")
	}
	defer server.Close()

	poller.Reset()
	poller.Reserve(1)
	poller.Add(client)
	if err := poller.Poll(500); err != nil {
		t.Fatalf("poll for writable: %v", err)
	}
	_, res, ok := poller.NextResult()
	if !ok || !res.Writable {
		t.Fatalf("client handle never became writable after connect")
	}

	payload := []byte("ping")
	n, err := server.Send(payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("send wrote %d bytes, want %d", n, len(payload))
	}

	buf := make([]byte, 16)
	deadline = time.Now().Add(2 * time.Second)
	var got int
	for got == 0 && time.Now().Before(deadline) {
		poller.Reset()
		poller.Reserve(1)
		poller.Add(client)
		if err := poller.Poll(50); err != nil {
			t.Fatalf("poll for readable: %v", err)
		}
		_, res, ok := poller.NextResult()
		if !ok || !res.Readable {
			continue
		}
		n, err := client.Recv(buf)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got = n
	}
	if string(buf[:got]) != "ping" {
		t.Fatalf("client received %q, want %q", buf[:got], "ping")
	}
}

// TestGracefulCloseReadsZero confirms the Handle.Recv contract spec.md §7
// relies on: a closed peer's write half yields (0, nil), distinct from a
// would-block error.
func TestGracefulCloseReadsZero(t *testing.T) {
	listener, addr, port := mustListener(t)
	defer listener.Close()

	client, err := NewHandle(FamilyOf(addr))
	if err != nil {
		t.Fatalf("new client handle: %v", err)
	}
	defer client.Close()
	if err := client.Connect(addr, port); err != nil && !IsWouldBlock(err) {
		t.Fatalf("connect: %v", err)
	}

	var server *Handle
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		accepted, err := listener.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if accepted.Valid() {
			server = accepted
			break
		}
		time.Sleep(time.Millisecond)
	}
	if server == nil {
		t.Fatal("server side never accepted within deadline")
	}
	if err := server.Close(); err != nil {
		t.Fatalf("close server side: %v", err)
	}

	poller := NewPoller()
	buf := make([]byte, 16)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		poller.Reset()
		poller.Reserve(1)
		poller.Add(client)
		if err := poller.Poll(50); err != nil {
			t.Fatalf("poll: %v", err)
		}
		_, res, ok := poller.NextResult()
		if !ok || (!res.Readable && !res.HangUp) {
			continue
		}
		n, err := client.Recv(buf)
		if err != nil {
			t.Fatalf("recv after peer close: %v", err)
		}
		if n != 0 {
			t.Fatalf("recv after peer close returned %d bytes, want 0", n)
		}
		return
	}
	t.Fatal("client handle never observed the peer's graceful close")
}

// TestFamilyOf confirms the v4/v6 dispatch spec.md §4.1 describes, since
// this is what chooses the socket domain NewHandle opens.
func TestFamilyOf(t *testing.T) {
	if got := FamilyOf(netip.MustParseAddr("127.0.0.1")); got != FamilyV4 {
		t.Fatalf("FamilyOf(127.0.0.1) = %v, want FamilyV4", got)
	}
	if got := FamilyOf(netip.MustParseAddr("::1")); got != FamilyV6 {
		t.Fatalf("FamilyOf(::1) = %v, want FamilyV6", got)
	}
}
