// Package resolver implements a unicast DNS client: iterative resolution
// with cached delegations, CNAME chasing, optional DNS-over-HTTPS, and a
// guard that keeps private-namespace questions away from public servers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/smarthomeos/tinydns/dnsmsg"
	"github.com/smarthomeos/tinydns/internal/metrics"
	"github.com/smarthomeos/tinydns/internal/netinfo"
	"github.com/smarthomeos/tinydns/internal/pool"
	"github.com/smarthomeos/tinydns/internal/random"
	"github.com/smarthomeos/tinydns/internal/rrcache"
)

// Mode selects the transport policy.
type Mode int

const (
	// InsecureOnly uses plain UDP exclusively.
	InsecureOnly Mode = iota
	// SecureWithFallback tries DoH first and falls back to UDP on HTTPS
	// or timeout failures, unless the server is flagged DoHNo.
	SecureWithFallback
	// SecureOnly uses DoH exclusively and fails otherwise.
	SecureOnly
)

const (
	maxDepth       = 10
	attemptTimeout = 3 * time.Second
)

var (
	// ErrBadArgument reports null/empty caller input.
	ErrBadArgument = errors.New("resolver: bad argument")

	// ErrDepthExceeded reports a CNAME or delegation chain deeper than
	// the recursion guard allows.
	ErrDepthExceeded = errors.New("resolver: max resolution depth exceeded")
)

// Resolver resolves names against a configurable nameserver list. The
// zero value is not usable; construct with New or NewWithServers.
type Resolver struct {
	mu      sync.RWMutex
	servers []NameServer
	suffix  string

	mode  Mode
	cache *rrcache.Cache
	doh   *dohClient

	// port is the upstream port, overridable in tests.
	port int

	watcher *netinfo.Watcher
	done    sync.WaitGroup
	closeMu sync.Once
}

// New builds a resolver that discovers nameservers from the platform
// configuration and refreshes them when the network changes.
func New(mode Mode) *Resolver {
	r := newResolver(mode)
	r.discover()
	r.watcher = netinfo.NewWatcher()
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		for range r.watcher.Changes() {
			r.discover()
		}
	}()
	return r
}

// NewWithServers builds a resolver with an explicit nameserver list; no
// auto-discovery or network watching happens.
func NewWithServers(servers []NameServer, mode Mode) *Resolver {
	r := newResolver(mode)
	r.SetNameservers(servers)
	return r
}

func newResolver(mode Mode) *Resolver {
	return &Resolver{
		mode:  mode,
		cache: rrcache.New(),
		doh:   newDoHClient(attemptTimeout),
		port:  53,
	}
}

// Close stops the network watcher. Safe to call on resolvers built with
// NewWithServers.
func (r *Resolver) Close() {
	r.closeMu.Do(func() {
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
	r.done.Wait()
}

// discover repopulates the server list from the platform resolver
// configuration.
func (r *Resolver) discover() {
	ips, suffix := netinfo.SystemNameservers()
	servers := make([]NameServer, 0, len(ips))
	for _, ip := range ips {
		servers = append(servers, NameServer{Addr: ip, Suffix: suffix})
	}
	r.mu.Lock()
	r.servers = servers
	r.suffix = suffix
	r.mu.Unlock()
}

// Nameservers returns a snapshot of the current list.
func (r *Resolver) Nameservers() []NameServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NameServer, len(r.servers))
	copy(out, r.servers)
	return out
}

// SetNameservers replaces the list.
func (r *Resolver) SetNameservers(servers []NameServer) {
	out := make([]NameServer, len(servers))
	copy(out, servers)
	r.mu.Lock()
	r.servers = out
	r.mu.Unlock()
}

// ResolveHost resolves a hostname to its addresses: the results of an A
// query followed by an AAAA query.
func (r *Resolver) ResolveHost(ctx context.Context, host string) ([]net.IP, error) {
	v4, err := r.ResolveHost4(ctx, host)
	if err != nil {
		return nil, err
	}
	v6, err := r.ResolveHost6(ctx, host)
	if err != nil {
		return nil, err
	}
	return append(v4, v6...), nil
}

// ResolveHost4 resolves IPv4 addresses only.
func (r *Resolver) ResolveHost4(ctx context.Context, host string) ([]net.IP, error) {
	return r.resolveAddrs(ctx, host, dnsmsg.TypeA)
}

// ResolveHost6 resolves IPv6 addresses only.
func (r *Resolver) ResolveHost6(ctx context.Context, host string) ([]net.IP, error) {
	return r.resolveAddrs(ctx, host, dnsmsg.TypeAAAA)
}

func (r *Resolver) resolveAddrs(ctx context.Context, host string, typ dnsmsg.Type) ([]net.IP, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBadArgument)
	}
	name, err := dnsmsg.ParseName(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgument, err)
	}

	resp, err := r.ResolveQuery(ctx, dnsmsg.Question{Name: name, Type: typ, Class: dnsmsg.ClassINET})
	if err != nil {
		return nil, err
	}

	// Short-name completion: retry a bare single label with the learned
	// search suffix.
	if resp == nil && len(name) == 1 {
		r.mu.RLock()
		suffix := r.suffix
		r.mu.RUnlock()
		if suffix != "" {
			if sfx, err := dnsmsg.ParseName(suffix); err == nil {
				resp, err = r.ResolveQuery(ctx, dnsmsg.Question{
					Name: name.Append(sfx), Type: typ, Class: dnsmsg.ClassINET,
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if resp == nil {
		return nil, nil
	}

	var out []net.IP
	for _, rr := range append(resp.Answers, resp.Additionals...) {
		switch data := rr.Data.(type) {
		case *dnsmsg.A:
			if typ == dnsmsg.TypeA {
				out = append(out, data.Addr)
			}
		case *dnsmsg.AAAA:
			if typ == dnsmsg.TypeAAAA {
				out = append(out, data.Addr)
			}
		}
	}
	return out, nil
}

// ResolveIP resolves an address back to a name via its reverse-mapped
// PTR owner. Returns the root name when nothing is found.
func (r *Resolver) ResolveIP(ctx context.Context, ip net.IP) (dnsmsg.Name, error) {
	rr, err := r.ResolveIPRecord(ctx, ip)
	if err != nil || rr == nil {
		return nil, err
	}
	if ptr, ok := rr.Data.(*dnsmsg.PTR); ok {
		return ptr.Target, nil
	}
	return nil, nil
}

// ResolveIPRecord is ResolveIP returning the whole PTR record.
func (r *Resolver) ResolveIPRecord(ctx context.Context, ip net.IP) (*dnsmsg.Record, error) {
	if ip == nil {
		return nil, fmt.Errorf("%w: nil address", ErrBadArgument)
	}
	resp, err := r.ResolveQuery(ctx, dnsmsg.Question{
		Name:  dnsmsg.NameFromIP(ip),
		Type:  dnsmsg.TypePTR,
		Class: dnsmsg.ClassINET,
	})
	if err != nil || resp == nil {
		return nil, err
	}
	for _, rr := range resp.Answers {
		if rr.Type == dnsmsg.TypePTR {
			return rr, nil
		}
	}
	return nil, nil
}

// ResolveQuery is the resolution primitive: it returns the first usable
// response, or nil when every nameserver has been exhausted. NXDOMAIN
// responses are returned to the caller; transport and parse failures are
// absorbed by moving to the next server.
func (r *Resolver) ResolveQuery(ctx context.Context, q dnsmsg.Question) (*dnsmsg.Message, error) {
	if len(q.Name) == 0 {
		return nil, fmt.Errorf("%w: empty question name", ErrBadArgument)
	}
	if q.Class == 0 {
		q.Class = dnsmsg.ClassINET
	}
	depth := 0
	return r.resolve(ctx, q, r.Nameservers(), &depth)
}

func (r *Resolver) resolve(ctx context.Context, q dnsmsg.Question, servers []NameServer, depth *int) (*dnsmsg.Message, error) {
	*depth++
	if *depth > maxDepth {
		return nil, ErrDepthExceeded
	}

	if cached := r.cache.Search(q.Name, q.Type); len(cached) > 0 {
		return synthesize(q, cached), nil
	}

	// One socket serves every attempt of this call.
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: open socket: %w", err)
	}
	defer conn.Close()

	private := privateQuestion(q)
	for _, ns := range servers {
		if ns.Addr == nil {
			continue
		}
		// Never disclose private names to public resolvers.
		if private && !privateAddr(ns.Addr) {
			continue
		}

		resp := r.exchange(ctx, conn, ns, q)
		if resp == nil {
			continue
		}

		if resp.Rcode == dnsmsg.RcodeNameError && resp.Opcode == dnsmsg.OpcodeQuery {
			// Definitive absence belongs to the caller.
			return resp, nil
		}
		if resp.Rcode != dnsmsg.RcodeNoError {
			continue
		}

		for _, rr := range resp.Answers {
			r.cache.Store(rr)
		}
		for _, rr := range resp.Authorities {
			r.cache.Store(rr)
		}
		for _, rr := range resp.Additionals {
			r.cache.Store(rr)
		}

		for _, rr := range resp.Answers {
			if rr.Type == q.Type {
				return resp, nil
			}
		}
		for _, rr := range resp.Additionals {
			if rr.Type == q.Type && rr.Name.Equal(q.Name) {
				return resp, nil
			}
		}

		for _, rr := range resp.Answers {
			if cname, ok := rr.Data.(*dnsmsg.CNAME); ok {
				chased := q
				chased.Name = cname.Target
				return r.resolve(ctx, chased, servers, depth)
			}
		}

		if !resp.RecursionAvailable && len(resp.Answers) == 0 && len(resp.Authorities) > 0 {
			next := r.delegation(ctx, resp, ns, depth)
			if len(next) > 0 {
				return r.resolve(ctx, q, next, depth)
			}
		}
	}
	return nil, nil
}

// exchange runs one attempt against one nameserver, applying the
// transport policy. A nil return means try the next server.
func (r *Resolver) exchange(ctx context.Context, conn *net.UDPConn, ns NameServer, q dnsmsg.Question) *dnsmsg.Message {
	switch r.mode {
	case SecureOnly:
		if ns.DoH == DoHNo {
			return nil
		}
		return r.dohAttempt(ctx, ns, q)
	case SecureWithFallback:
		if ns.DoH != DoHNo {
			if resp := r.dohAttempt(ctx, ns, q); resp != nil {
				return resp
			}
		}
		return r.udpAttempt(ctx, conn, ns, q)
	default:
		return r.udpAttempt(ctx, conn, ns, q)
	}
}

func (r *Resolver) dohAttempt(ctx context.Context, ns NameServer, q dnsmsg.Question) *dnsmsg.Message {
	// DoH messages travel with transaction id zero.
	msg := dnsmsg.NewQuery(0, q.Name, q.Type)
	msg.RecursionDesired = true
	metrics.QueriesSent.WithLabelValues("doh").Inc()

	resp, err := r.doh.exchange(ctx, ns.Addr, msg.Bytes())
	if err != nil {
		return nil
	}
	return resp
}

func (r *Resolver) udpAttempt(ctx context.Context, conn *net.UDPConn, ns NameServer, q dnsmsg.Question) *dnsmsg.Message {
	id := random.TransactionID()
	msg := dnsmsg.NewQuery(id, q.Name, q.Type)
	msg.RecursionDesired = true
	metrics.QueriesSent.WithLabelValues("udp").Inc()

	port := r.port
	if ns.port != 0 {
		port = ns.port
	}
	dst := &net.UDPAddr{IP: ns.Addr, Port: port}
	if _, err := conn.WriteToUDP(msg.Bytes(), dst); err != nil {
		return nil
	}

	deadline := time.Now().Add(attemptTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil
	}

	buf := pool.GetSmall()
	defer pool.PutSmall(buf)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil
		}
		if !from.IP.Equal(ns.Addr) {
			continue
		}
		resp, err := dnsmsg.ParseMessage(buf[:n])
		if err != nil {
			// Malformed or truncated: drop and move on.
			metrics.ParseErrors.Inc()
			return nil
		}
		if resp.ID != id || !resp.Response {
			continue
		}
		return resp
	}
}

// delegation turns a referral into the next nameserver set: NS names from
// the authority section, addresses from glue matching the contacted
// server's family, then from cache, then by a nested host resolution.
func (r *Resolver) delegation(ctx context.Context, resp *dnsmsg.Message, contacted NameServer, depth *int) []NameServer {
	wantV4 := contacted.Addr.To4() != nil
	glueType := dnsmsg.TypeA
	if !wantV4 {
		glueType = dnsmsg.TypeAAAA
	}

	var next []NameServer
	for _, auth := range resp.Authorities {
		nsData, ok := auth.Data.(*dnsmsg.NS)
		if !ok {
			continue
		}

		found := false
		for _, add := range resp.Additionals {
			if add.Type == glueType && add.Name.Equal(nsData.Host) {
				next = append(next, NameServer{Addr: addrOf(add)})
				found = true
			}
		}
		if found {
			continue
		}

		for _, rr := range r.cache.Search(nsData.Host, glueType) {
			next = append(next, NameServer{Addr: addrOf(rr)})
			found = true
		}
		if found {
			continue
		}

		// No glue anywhere: resolve the nameserver's own address.
		q := dnsmsg.Question{Name: nsData.Host, Type: glueType, Class: dnsmsg.ClassINET}
		nested, err := r.resolve(ctx, q, r.Nameservers(), depth)
		if err != nil || nested == nil {
			continue
		}
		for _, rr := range nested.Answers {
			if rr.Type == glueType {
				next = append(next, NameServer{Addr: addrOf(rr)})
			}
		}
	}
	return next
}

func addrOf(rr *dnsmsg.Record) net.IP {
	switch data := rr.Data.(type) {
	case *dnsmsg.A:
		return data.Addr
	case *dnsmsg.AAAA:
		return data.Addr
	}
	return nil
}

// synthesize builds a response message around cached records.
func synthesize(q dnsmsg.Question, rrs []*dnsmsg.Record) *dnsmsg.Message {
	return &dnsmsg.Message{
		Response:           true,
		RecursionAvailable: true,
		Questions:          []dnsmsg.Question{q},
		Answers:            rrs,
	}
}
