//go:build windows

package mdns

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// unicastSupported: Windows SO_REUSEADDR semantics make delivery of
// unicast replies to a shared 5353 socket unreliable, so the client
// masks the unicast-response bit off outgoing questions.
const unicastSupported = false

// reuseControl sets SO_REUSEADDR; Windows has no SO_REUSEPORT.
func reuseControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = windows.SetsockoptInt(windows.Handle(fd),
			windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
