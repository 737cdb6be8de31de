package resolver

import (
	"fmt"
	"net"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

// DoHSupport is the tri-state DNS-over-HTTPS capability of a nameserver.
type DoHSupport int

const (
	// DoHUnknown: untested; SecureWithFallback will try HTTPS first.
	DoHUnknown DoHSupport = iota
	// DoHYes: the server is known to answer on /dns-query.
	DoHYes
	// DoHNo: skip HTTPS for this server even when the mode prefers it.
	DoHNo
)

// NameServer describes one upstream resolver.
type NameServer struct {
	Addr net.IP
	DoH  DoHSupport

	// Suffix is the DNS search suffix learned alongside this server,
	// used to complete single-label names.
	Suffix string

	// port overrides the resolver's upstream port for this server;
	// zero means inherit. Only tests set it.
	port int
}

func (ns NameServer) String() string {
	if ns.DoH == DoHYes {
		return fmt.Sprintf("%s (doh)", ns.Addr)
	}
	return ns.Addr.String()
}

// Cloudflare returns the 1.1.1.1 public resolver pair.
func Cloudflare() []NameServer {
	return []NameServer{
		{Addr: net.IPv4(1, 1, 1, 1), DoH: DoHYes},
		{Addr: net.IPv4(1, 0, 0, 1), DoH: DoHYes},
	}
}

// Google returns the 8.8.8.8 public resolver pair.
func Google() []NameServer {
	return []NameServer{
		{Addr: net.IPv4(8, 8, 8, 8), DoH: DoHYes},
		{Addr: net.IPv4(8, 8, 4, 4), DoH: DoHYes},
	}
}

// RootServers returns the thirteen root letters for iterative resolution
// from the root zone.
func RootServers() []NameServer {
	addrs := []string{
		"198.41.0.4",     // a.root-servers.net
		"199.9.14.201",   // b.root-servers.net
		"192.33.4.12",    // c.root-servers.net
		"199.7.91.13",    // d.root-servers.net
		"192.203.230.10", // e.root-servers.net
		"192.5.5.241",    // f.root-servers.net
		"192.112.36.4",   // g.root-servers.net
		"198.97.190.53",  // h.root-servers.net
		"192.36.148.17",  // i.root-servers.net
		"192.58.128.30",  // j.root-servers.net
		"193.0.14.129",   // k.root-servers.net
		"199.7.83.42",    // l.root-servers.net
		"202.12.27.33",   // m.root-servers.net
	}
	out := make([]NameServer, len(addrs))
	for i, a := range addrs {
		out[i] = NameServer{Addr: net.ParseIP(a), DoH: DoHNo}
	}
	return out
}

// privateQuestion reports whether a question must never leave the local
// network: its owner's terminal label is "local", or it is a bare
// single-label name.
func privateQuestion(q dnsmsg.Question) bool {
	return len(q.Name) == 1 || q.Name.EndsIn("local")
}

var privateV4Nets = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16"} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

// privateAddr reports whether a nameserver address is itself inside a
// private range and therefore acceptable for private questions.
func privateAddr(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, n := range privateV4Nets {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	return ip.IsLinkLocalUnicast() || ip.IsPrivate() || isSiteLocal(ip)
}

// isSiteLocal covers the deprecated fec0::/10 range, which still shows up
// in older site deployments.
func isSiteLocal(ip net.IP) bool {
	v6 := ip.To16()
	return v6 != nil && v6[0] == 0xfe && v6[1]&0xC0 == 0xC0
}
