//go:build linux || darwin || freebsd || netbsd || openbsd

package mdns

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// unicastSupported: with SO_REUSEPORT the 5353 sockets reliably receive
// unicast replies, so the unicast-response question bit can be honored.
const unicastSupported = true

// reuseControl sets SO_REUSEADDR and SO_REUSEPORT so the listeners and
// senders can share port 5353 with each other and with system daemons
// like Avahi or mDNSResponder.
func reuseControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			ctrlErr = err
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			// Kernels without SO_REUSEPORT still work with REUSEADDR
			// alone; anything else is a real failure.
			if err != unix.ENOPROTOOPT {
				ctrlErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
