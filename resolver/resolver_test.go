package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

// mockUpstream runs a miekg/dns server on a loopback port and returns a
// resolver pointed at it.
func mockUpstream(t *testing.T, zone string, handler dns.HandlerFunc) (*Resolver, func()) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &dns.Server{PacketConn: pc}
	dns.HandleFunc(zone, handler)
	go func() {
		_ = server.ActivateAndServe()
	}()
	// Wait for the server to come up.
	time.Sleep(100 * time.Millisecond)

	r := NewWithServers([]NameServer{{Addr: net.IPv4(127, 0, 0, 1)}}, InsecureOnly)
	r.port = pc.LocalAddr().(*net.UDPAddr).Port

	return r, func() {
		dns.HandleRemove(zone)
		_ = server.Shutdown()
	}
}

func TestResolveHost4(t *testing.T) {
	r, cleanup := mockUpstream(t, "example.com.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = true
		if req.Question[0].Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA,
					Class: dns.ClassINET, Ttl: 60},
				A: net.IPv4(1, 2, 3, 4).To4(),
			})
		}
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	ips, err := r.ResolveHost4(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "1.2.3.4", ips[0].String())
}

func TestCNAMEChase(t *testing.T) {
	r, cleanup := mockUpstream(t, "test.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = true
		switch req.Question[0].Name {
		case "a.test.":
			m.Answer = append(m.Answer, &dns.CNAME{
				Hdr: dns.RR_Header{Name: "a.test.", Rrtype: dns.TypeCNAME,
					Class: dns.ClassINET, Ttl: 60},
				Target: "b.test.",
			})
		case "b.test.":
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: "b.test.", Rrtype: dns.TypeA,
					Class: dns.ClassINET, Ttl: 60},
				A: net.IPv4(192, 0, 2, 77).To4(),
			})
		}
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	resp, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.MustParseName("a.test"),
		Type: dnsmsg.TypeA,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	var addr net.IP
	for _, rr := range resp.Answers {
		if a, ok := rr.Data.(*dnsmsg.A); ok {
			addr = a.Addr
		}
	}
	require.NotNil(t, addr, "expected an A record after the chase")
	assert.Equal(t, "192.0.2.77", addr.String())
}

func TestPrivateLeakGuard(t *testing.T) {
	// Public servers only: a .local question must not touch the network
	// and must come back empty.
	r := NewWithServers(Google(), InsecureOnly)

	start := time.Now()
	resp, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.MustParseName("printer.local"),
		Type: dnsmsg.TypeA,
	})
	require.NoError(t, err)
	assert.Nil(t, resp)
	// Every server was skipped, so no 3-second attempt timeout elapsed.
	assert.Less(t, time.Since(start), time.Second)
}

func TestPrivateLeakGuardSingleLabel(t *testing.T) {
	r := NewWithServers(Cloudflare(), InsecureOnly)

	resp, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.Name{"intranet"},
		Type: dnsmsg.TypeA,
	})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestNameErrorReturned(t *testing.T) {
	r, cleanup := mockUpstream(t, "missing.example.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	resp, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.MustParseName("gone.missing.example"),
		Type: dnsmsg.TypeA,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, dnsmsg.RcodeNameError, resp.Rcode)
}

func TestCacheServesSecondQuery(t *testing.T) {
	r, cleanup := mockUpstream(t, "cached.example.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = true
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA,
				Class: dns.ClassINET, Ttl: 300},
			A: net.IPv4(203, 0, 113, 9).To4(),
		})
		_ = w.WriteMsg(m)
	})

	q := dnsmsg.Question{Name: dnsmsg.MustParseName("host.cached.example"), Type: dnsmsg.TypeA}
	first, err := r.ResolveQuery(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Upstream is gone; the answer must now come from cache.
	cleanup()

	second, err := r.ResolveQuery(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotEmpty(t, second.Answers)
	assert.Equal(t, "203.0.113.9", second.Answers[0].Data.(*dnsmsg.A).Addr.String())
}

func TestDepthGuardOnCNAMELoop(t *testing.T) {
	r, cleanup := mockUpstream(t, "loop.example.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = true
		target := "a.loop.example."
		if req.Question[0].Name == "a.loop.example." {
			target = "b.loop.example."
		}
		m.Answer = append(m.Answer, &dns.CNAME{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeCNAME,
				Class: dns.ClassINET, Ttl: 60},
			Target: target,
		})
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	_, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.MustParseName("a.loop.example"),
		Type: dnsmsg.TypeA,
	})
	assert.ErrorIs(t, err, ErrDepthExceeded)
}

func TestResolveIP(t *testing.T) {
	r, cleanup := mockUpstream(t, "in-addr.arpa.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = true
		m.Answer = append(m.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypePTR,
				Class: dns.ClassINET, Ttl: 60},
			Ptr: "web.example.com.",
		})
		_ = w.WriteMsg(m)
	})
	defer cleanup()

	name, err := r.ResolveIP(context.Background(), net.IPv4(203, 0, 113, 7))
	require.NoError(t, err)
	assert.True(t, name.Equal(dnsmsg.MustParseName("web.example.com")))
}

func TestDelegationFollowsGlue(t *testing.T) {
	// Child zone server: answers authoritatively for sub.example.
	childPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	childPort := childPC.LocalAddr().(*net.UDPAddr).Port
	childServer := &dns.Server{PacketConn: childPC}
	childMux := dns.NewServeMux()
	childMux.HandleFunc("sub.example.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Authoritative = true
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA,
				Class: dns.ClassINET, Ttl: 60},
			A: net.IPv4(198, 51, 100, 42).To4(),
		})
		_ = w.WriteMsg(m)
	})
	childServer.Handler = childMux
	go func() { _ = childServer.ActivateAndServe() }()
	defer func() { _ = childServer.Shutdown() }()

	// Parent zone server: refers sub.example to the child with glue.
	parentPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	parentPort := parentPC.LocalAddr().(*net.UDPAddr).Port
	parentServer := &dns.Server{PacketConn: parentPC}
	parentMux := dns.NewServeMux()
	parentMux.HandleFunc("example.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.RecursionAvailable = false
		m.Ns = append(m.Ns, &dns.NS{
			Hdr: dns.RR_Header{Name: "sub.example.", Rrtype: dns.TypeNS,
				Class: dns.ClassINET, Ttl: 60},
			Ns: "ns1.sub.example.",
		})
		m.Extra = append(m.Extra, &dns.A{
			Hdr: dns.RR_Header{Name: "ns1.sub.example.", Rrtype: dns.TypeA,
				Class: dns.ClassINET, Ttl: 60},
			A: net.IPv4(127, 0, 0, 1).To4(),
		})
		_ = w.WriteMsg(m)
	})
	parentServer.Handler = parentMux
	go func() { _ = parentServer.ActivateAndServe() }()
	defer func() { _ = parentServer.Shutdown() }()

	time.Sleep(100 * time.Millisecond)

	r := NewWithServers([]NameServer{
		{Addr: net.IPv4(127, 0, 0, 1), port: parentPort},
	}, InsecureOnly)
	// Glue-built servers inherit the resolver's default port: point it at
	// the child zone server.
	r.port = childPort

	resp, err := r.ResolveQuery(context.Background(), dnsmsg.Question{
		Name: dnsmsg.MustParseName("www.sub.example"),
		Type: dnsmsg.TypeA,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Answers)
	assert.Equal(t, "198.51.100.42", resp.Answers[0].Data.(*dnsmsg.A).Addr.String())
}

func TestBadArguments(t *testing.T) {
	r := NewWithServers(Cloudflare(), InsecureOnly)

	_, err := r.ResolveHost(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrBadArgument)

	_, err = r.ResolveIPRecord(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBadArgument)

	_, err = r.ResolveQuery(context.Background(), dnsmsg.Question{})
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestNameserverSnapshot(t *testing.T) {
	r := NewWithServers(Cloudflare(), InsecureOnly)

	snap := r.Nameservers()
	require.Len(t, snap, 2)
	snap[0].Addr = net.IPv4(9, 9, 9, 9)

	// Mutating the snapshot must not touch the resolver's list.
	assert.Equal(t, "1.1.1.1", r.Nameservers()[0].Addr.String())
}
