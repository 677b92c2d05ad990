//go:build windows

package transport

import "golang.org/x/sys/windows"

// bootstrap performs Winsock's required one-time process-wide
// initialization. Concurrent Handle creation is serialized onto this call
// by sync.Once in handle_windows.go; WSAStartup itself is reference-counted by
// the OS, but the spec requires the first call be serialized rather than
// racing two Go threads through it.
func bootstrap() error {
	var data windows.WSAData
	return windows.WSAStartup(uint32(0x0202), &data)
}
