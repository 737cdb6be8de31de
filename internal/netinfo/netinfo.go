// Package netinfo answers two questions about the host: which resolvers
// the platform is configured with, and which interfaces are worth
// speaking multicast on.
package netinfo

import (
	"bufio"
	"io"
	"net"
	"os"
	"strings"
)

const resolvConfPath = "/etc/resolv.conf"

// SystemNameservers returns the platform resolver addresses and the first
// search suffix, read from resolv.conf. A missing or unreadable file
// yields an empty list; callers fall back to presets.
func SystemNameservers() ([]net.IP, string) {
	f, err := os.Open(resolvConfPath)
	if err != nil {
		return nil, ""
	}
	defer f.Close()
	return ParseResolvConf(f)
}

// ParseResolvConf extracts nameserver addresses and the first search (or
// domain) suffix from resolv.conf-format text.
func ParseResolvConf(r io.Reader) ([]net.IP, string) {
	var servers []net.IP
	var suffix string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if ip := net.ParseIP(fields[1]); ip != nil {
				servers = append(servers, ip)
			}
		case "search", "domain":
			if suffix == "" {
				suffix = fields[1]
			}
		}
	}
	return servers, suffix
}

// MulticastInterfaces lists interfaces eligible for mDNS: operationally
// up, multicast-capable, and neither loopback nor point-to-point tunnels.
func MulticastInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagMulticast == 0 {
			continue
		}
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		out = append(out, ifc)
	}
	return out
}

// InterfaceAddrs splits an interface's unicast addresses by family. For
// IPv6 only link-local addresses are returned: those are the source
// addresses mDNS senders bind.
func InterfaceAddrs(ifc net.Interface) (v4, v6 []net.IP) {
	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP
		if ip4 := ip.To4(); ip4 != nil {
			v4 = append(v4, ip4)
			continue
		}
		if ip.IsLinkLocalUnicast() {
			v6 = append(v6, ip)
		}
	}
	return v4, v6
}
