package mdns

import (
	"context"
	"fmt"
	"net"
)

// listenSender binds a per-interface sender socket on port 5353 with
// address reuse, so senders coexist with the listeners and with other
// mDNS daemons on the host.
func listenSender(network string, laddr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(context.Background(), network, laddr.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("mdns: unexpected conn type %T", pc)
	}
	return conn, nil
}
