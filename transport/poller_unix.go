//go:build !windows

package transport

import "golang.org/x/sys/unix"

// Result reports the readiness state observed for one polled Handle.
type Result struct {
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

// Poller batch-polls a set of Transport Handles and reports per-handle
// readiness. Indices returned by NextResult correspond to insertion order
// since the last Reset.
type Poller struct {
	fds    []unix.PollFd
	cursor int
}

// NewPoller returns an empty Poller. Call Reserve as a capacity hint
// before Add if the peer count is known up front.
func NewPoller() *Poller {
	return &Poller{}
}

// Reserve pre-allocates capacity for n handles.
func (p *Poller) Reserve(n int) {
	if cap(p.fds) < n {
		fresh := make([]unix.PollFd, 0, n)
		p.fds = append(fresh, p.fds...)
	}
}

// Add registers h for the next Poll call, interested in both readability
// and writability.
func (p *Poller) Add(h *Handle) {
	p.fds = append(p.fds, unix.PollFd{
		Fd:     int32(h.FD()),
		Events: unix.POLLIN | unix.POLLOUT,
	})
}

// Reset clears the registered set and the result cursor, ready for the
// next tick's Add calls.
func (p *Poller) Reset() {
	p.fds = p.fds[:0]
	p.cursor = 0
}

// Poll blocks up to timeoutMs milliseconds (0 is a pure probe) waiting for
// readiness on any registered handle. An empty set returns immediately
// with no results. After Poll returns, results are consumed exactly once
// via NextResult; calling Poll again resets the read cursor.
func (p *Poller) Poll(timeoutMs int) error {
	p.cursor = 0
	if len(p.fds) == 0 {
		return nil
	}
	_, err := unix.Poll(p.fds, timeoutMs)
	if err != nil {
		return classify(err)
	}
	return nil
}

// NextResult returns the readiness of the next registered handle, in
// insertion order, along with its index. The sentinel index -1 means all
// results have been consumed.
func (p *Poller) NextResult() (index int, result Result, ok bool) {
	if p.cursor >= len(p.fds) {
		return -1, Result{}, false
	}
	pfd := p.fds[p.cursor]
	idx := p.cursor
	p.cursor++
	return idx, Result{
		Readable: pfd.Revents&(unix.POLLIN|unix.POLLPRI) != 0,
		Writable: pfd.Revents&unix.POLLOUT != 0,
		Error:    pfd.Revents&unix.POLLERR != 0,
		HangUp:   pfd.Revents&(unix.POLLHUP|unix.POLLNVAL) != 0,
	}, true
}

// Len reports how many handles are currently registered.
func (p *Poller) Len() int {
	return len(p.fds)
}
