// Package mdns implements a multicast DNS client per RFC 6762 with the
// DNS-SD conventions of RFC 6763 layered on top: multi-interface
// listeners, known-answer suppression, duplicate-question suppression,
// and a passive cache that keeps live service records fresh.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/time/rate"

	"github.com/smarthomeos/tinydns/dnsmsg"
	"github.com/smarthomeos/tinydns/internal/dedup"
	"github.com/smarthomeos/tinydns/internal/metrics"
	"github.com/smarthomeos/tinydns/internal/netinfo"
	"github.com/smarthomeos/tinydns/internal/pool"
	"github.com/smarthomeos/tinydns/internal/rrcache"
)

const (
	mdnsPort = 5353

	// Inter-datagram pause on the send fan-out; reduces burst
	// collisions across sender sockets.
	sendPause = 5 * time.Millisecond

	// How long the resolve operations listen for responses.
	answerWait = 3 * time.Second
)

var (
	groupV4 = net.IPv4(224, 0, 0, 251)
	groupV6 = net.ParseIP("ff02::fb")
)

var (
	// ErrNotStarted reports an operation before Start.
	ErrNotStarted = errors.New("mdns: client not started")

	// ErrBadArgument reports null/empty caller input.
	ErrBadArgument = errors.New("mdns: bad argument")
)

// Capability flags describe what the platform sockets can honor.
type Capability uint32

const (
	// CapUnicastSupported: the unicast-response question bit is honored.
	// Where clear, the client masks the bit off outgoing questions.
	CapUnicastSupported Capability = 1 << iota
)

type sender struct {
	conn *net.UDPConn
	v4   bool
}

// Client is the multicast DNS client. Construct with New, then Start.
type Client struct {
	cache    *rrcache.Cache
	suppress *dedup.Suppressor
	handlers *handlers

	// pacer spaces the per-sender fan-out.
	pacer *rate.Limiter

	mu      sync.Mutex
	started bool
	closed  bool
	v4conn  *ipv4.PacketConn
	v6conn  *ipv6.PacketConn
	v4pc    net.PacketConn
	v6pc    net.PacketConn
	senders []sender

	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup

	// transmit is swapped by tests to capture outgoing messages.
	transmit func(*dnsmsg.Message) error
}

// New builds a stopped client.
func New() *Client {
	c := &Client{
		cache:    rrcache.New(),
		suppress: dedup.New(),
		handlers: newHandlers(),
		pacer:    rate.NewLimiter(rate.Every(sendPause), 1),
	}
	c.transmit = c.send
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Capabilities reports what the platform sockets honor.
func (c *Client) Capabilities() Capability {
	if unicastSupported {
		return CapUnicastSupported
	}
	return 0
}

// Start binds the 5353 listeners, joins the multicast groups on every
// eligible interface, creates one sender socket per IPv4 address and per
// IPv6 link-local address, and launches the receive loops and the cache
// curator.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mdns: client closed")
	}
	if c.started {
		return nil
	}

	ifaces := netinfo.MulticastInterfaces()
	if err := c.bindListeners(ifaces); err != nil {
		c.teardownLocked()
		return err
	}
	c.bindSenders(ifaces)
	if len(c.senders) == 0 {
		c.teardownLocked()
		return errors.New("mdns: no usable interfaces")
	}

	c.cache.Start()
	c.done.Add(1)
	go c.consumeCacheEvents()

	if c.v4pc != nil {
		c.done.Add(1)
		go c.receiveLoop(c.v4pc, true)
	}
	if c.v6pc != nil {
		c.done.Add(1)
		go c.receiveLoop(c.v6pc, false)
	}

	c.started = true
	return nil
}

func (c *Client) bindListeners(ifaces []net.Interface) error {
	lc := net.ListenConfig{Control: reuseControl}

	pc4, err4 := lc.ListenPacket(c.ctx, "udp4", "0.0.0.0:5353")
	if err4 == nil {
		conn := ipv4.NewPacketConn(pc4)
		_ = conn.SetMulticastLoopback(false)
		joined := 0
		for i := range ifaces {
			if err := conn.JoinGroup(&ifaces[i], &net.UDPAddr{IP: groupV4}); err == nil {
				joined++
			}
		}
		if joined == 0 {
			pc4.Close()
		} else {
			c.v4pc, c.v4conn = pc4, conn
		}
	}

	pc6, err6 := lc.ListenPacket(c.ctx, "udp6", "[::]:5353")
	if err6 == nil {
		conn := ipv6.NewPacketConn(pc6)
		_ = conn.SetMulticastLoopback(false)
		joined := 0
		for i := range ifaces {
			if err := conn.JoinGroup(&ifaces[i], &net.UDPAddr{IP: groupV6}); err == nil {
				joined++
			}
		}
		if joined == 0 {
			pc6.Close()
		} else {
			c.v6pc, c.v6conn = pc6, conn
		}
	}

	if c.v4pc == nil && c.v6pc == nil {
		if err4 != nil {
			return fmt.Errorf("mdns: bind listeners: %w", err4)
		}
		if err6 != nil {
			return fmt.Errorf("mdns: bind listeners: %w", err6)
		}
		return errors.New("mdns: no multicast group joined")
	}
	return nil
}

// bindSenders creates one socket per IPv4 address and per IPv6 link-local
// address so each interface sources datagrams from its own address.
func (c *Client) bindSenders(ifaces []net.Interface) {
	for _, ifc := range ifaces {
		v4addrs, v6addrs := netinfo.InterfaceAddrs(ifc)
		for _, addr := range v4addrs {
			conn, err := listenSender("udp4", &net.UDPAddr{IP: addr, Port: mdnsPort})
			if err != nil {
				continue
			}
			c.senders = append(c.senders, sender{conn: conn, v4: true})
		}
		for _, addr := range v6addrs {
			conn, err := listenSender("udp6", &net.UDPAddr{IP: addr, Port: mdnsPort, Zone: ifc.Name})
			if err != nil {
				continue
			}
			c.senders = append(c.senders, sender{conn: conn, v4: false})
		}
	}
}

// Stop cancels the receive loops, disposes the listeners and clears the
// sender list. The client may not be restarted.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started || c.closed {
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		return
	}
	c.closed = true
	c.cancel()
	c.teardownLocked()
	c.mu.Unlock()

	c.cache.Stop()
	c.done.Wait()
}

func (c *Client) teardownLocked() {
	if c.v4pc != nil {
		c.v4pc.Close()
		c.v4pc, c.v4conn = nil, nil
	}
	if c.v6pc != nil {
		c.v6pc.Close()
		c.v6pc, c.v6conn = nil, nil
	}
	for _, s := range c.senders {
		s.conn.Close()
	}
	c.senders = nil
}

// Close stops the client and drops the cache.
func (c *Client) Close() {
	c.Stop()
	c.cache.Flush()
}

// send serializes and fans the message out over every sender socket,
// pacing consecutive datagrams.
func (c *Client) send(msg *dnsmsg.Message) error {
	c.mu.Lock()
	senders := make([]sender, len(c.senders))
	copy(senders, c.senders)
	started := c.started
	c.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	buf := pool.GetOut()
	defer pool.PutOut(buf)
	wire := msg.AppendTo(buf[:0])

	var firstErr error
	for _, s := range senders {
		if err := c.pacer.Wait(c.ctx); err != nil {
			return err
		}
		dst := &net.UDPAddr{IP: groupV4, Port: mdnsPort}
		if !s.v4 {
			dst = &net.UDPAddr{IP: groupV6, Port: mdnsPort}
		}
		if _, err := s.conn.WriteToUDP(wire, dst); err != nil && firstErr == nil {
			firstErr = err
		}
		metrics.Datagrams.WithLabelValues("out").Inc()
	}
	return firstErr
}

// receiveLoop owns one listener socket until Stop.
func (c *Client) receiveLoop(pc net.PacketConn, v4 bool) {
	defer c.done.Done()

	limit := pool.MaxInboundV6
	if v4 {
		limit = pool.MaxInboundV4
	}

	for {
		buf := pool.GetReceive()
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			pool.PutReceive(buf)
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.handlers.error(ErrorEvent{Err: err})
			return
		}
		if n > limit {
			n = limit
		}

		c.handleDatagram(buf[:n], src)
		pool.PutReceive(buf)
	}
}

// handleDatagram validates, parses, dedups and dispatches one datagram.
// Parse errors are swallowed; mDNS is a noisy medium.
func (c *Client) handleDatagram(data []byte, src net.Addr) {
	udp, ok := src.(*net.UDPAddr)
	if !ok || udp.Port != mdnsPort {
		return
	}
	metrics.Datagrams.WithLabelValues("in").Inc()

	msg, err := dnsmsg.ParseMessage(data)
	if err != nil {
		metrics.ParseErrors.Inc()
		return
	}
	if c.suppress.Duplicate(msg, src.String()) {
		return
	}
	c.handleMessage(msg, src)
}

// handleMessage stores responses and raises events. Split from
// handleDatagram so tests can inject parsed messages.
func (c *Client) handleMessage(msg *dnsmsg.Message, src net.Addr) {
	if msg.Response {
		if msg.Rcode != dnsmsg.RcodeNoError {
			return
		}
		if len(msg.Answers) == 0 && len(msg.Additionals) == 0 {
			return
		}
		var added, updated []*dnsmsg.Record
		for _, rr := range append(msg.Answers, msg.Additionals...) {
			switch c.cache.Store(rr) {
			case rrcache.NewData:
				added = append(added, rr)
			case rrcache.Update:
				updated = append(updated, rr)
			}
		}
		c.handlers.answer(AnswerEvent{Message: msg, From: src, Added: added, Updated: updated})
		return
	}

	if len(msg.Questions) > 0 {
		c.handlers.query(QueryEvent{Message: msg, From: src})
	}
}

// consumeCacheEvents turns curator notifications into refresh queries and
// caller events. The cache emits descriptors and this handler issues the
// queries, so neither side holds a reference into the other's locks.
func (c *Client) consumeCacheEvents() {
	defer c.done.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.cache.Events():
			switch ev.Kind {
			case rrcache.RefreshDue:
				c.handlers.refresh(RefreshEvent{Owner: ev.Owner, Types: ev.Types})
				c.refreshServiceRecords(ev.Owner, ev.Types)
			case rrcache.Expired:
				c.handlers.expire(ExpireEvent{Owner: ev.Owner})
			}
		}
	}
}

// refreshServiceRecords re-queries a service instance whose SRV or TXT
// records are approaching expiry, keeping live services resolvable
// without caller involvement.
func (c *Client) refreshServiceRecords(owner dnsmsg.Name, types []dnsmsg.Type) {
	interesting := false
	for _, t := range types {
		if t == dnsmsg.TypeSRV || t == dnsmsg.TypeTXT {
			interesting = true
			break
		}
	}
	// Owner must look like instance.service.proto.domain.
	if !interesting || len(owner) < 4 {
		return
	}

	questions := make([]dnsmsg.Question, 0, 4)
	for _, t := range []dnsmsg.Type{dnsmsg.TypeSRV, dnsmsg.TypeTXT, dnsmsg.TypeA, dnsmsg.TypeAAAA} {
		questions = append(questions, dnsmsg.Question{Name: owner, Type: t, Class: dnsmsg.ClassINET})
	}
	_ = c.transmit(c.compose(questions, nil))
}
