//go:build windows

package transport

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// golang.org/x/sys/windows does not wrap WSAPoll directly; it is reached
// the same way the package reaches any uncovered Winsock entry point,
// through a lazily bound DLL procedure.
var (
	ws2_32      = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAPoll = ws2_32.NewProc("WSAPoll")
)

const (
	pollRDNorm = 0x0100
	pollWrNorm = 0x0010
	pollErr    = 0x0001
	pollHup    = 0x0002
	pollNval   = 0x0004
)

// wsaPollFD mirrors the WSAPOLLFD struct from winsock2.h.
type wsaPollFD struct {
	fd      windows.Handle
	events  int16
	revents int16
}

// Result reports the readiness state observed for one polled Handle.
type Result struct {
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

// Poller batch-polls a set of Transport Handles via WSAPoll, Winsock's
// counterpart to POSIX poll(2).
type Poller struct {
	handles []*Handle
	fds     []wsaPollFD
	cursor  int
}

func NewPoller() *Poller {
	return &Poller{}
}

func (p *Poller) Reserve(n int) {
	if cap(p.handles) >= n {
		return
	}
	handles := make([]*Handle, len(p.handles), n)
	copy(handles, p.handles)
	p.handles = handles
	fds := make([]wsaPollFD, len(p.fds), n)
	copy(fds, p.fds)
	p.fds = fds
}

func (p *Poller) Add(h *Handle) {
	p.handles = append(p.handles, h)
	p.fds = append(p.fds, wsaPollFD{fd: h.FD(), events: pollRDNorm | pollWrNorm})
}

func (p *Poller) Reset() {
	p.handles = p.handles[:0]
	p.fds = p.fds[:0]
	p.cursor = 0
}

// Poll blocks up to timeoutMs for any registered Handle to become
// readable, writable, or errored.
func (p *Poller) Poll(timeoutMs int) error {
	p.cursor = 0
	for i := range p.fds {
		p.fds[i].revents = 0
	}
	if len(p.fds) == 0 {
		return nil
	}

	r1, _, errno := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&p.fds[0])),
		uintptr(len(p.fds)),
		uintptr(timeoutMs),
	)
	if int32(r1) == -1 {
		return classify(errno)
	}
	return nil
}

func (p *Poller) NextResult() (index int, result Result, ok bool) {
	if p.cursor >= len(p.fds) {
		return -1, Result{}, false
	}
	idx := p.cursor
	p.cursor++
	revents := p.fds[idx].revents
	return idx, Result{
		Readable: revents&pollRDNorm != 0,
		Writable: revents&pollWrNorm != 0,
		Error:    revents&pollErr != 0,
		HangUp:   revents&(pollHup|pollNval) != 0,
	}, true
}

func (p *Poller) Len() int {
	return len(p.handles)
}
