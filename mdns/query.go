package mdns

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

// serviceEnumerationName is the DNS-SD meta-query owner under a domain
// (RFC 6763 §9).
var serviceEnumerationName = dnsmsg.Name{"_services", "_dns-sd", "_udp"}

// compose builds an outgoing query: transaction id zero, RD and RA clear,
// cached known answers attached so responders may suppress. The
// unicast-response bit is masked off where the platform cannot honor it.
func (c *Client) compose(questions []dnsmsg.Question, known []*dnsmsg.Record) *dnsmsg.Message {
	if !unicastSupported {
		for i := range questions {
			questions[i].UnicastResponse = false
		}
	}
	return &dnsmsg.Message{
		Questions: questions,
		Answers:   known,
	}
}

// SendQuery transmits a caller-built query message as-is.
func (c *Client) SendQuery(msg *dnsmsg.Message) error {
	if msg == nil || len(msg.Questions) == 0 {
		return fmt.Errorf("%w: empty query", ErrBadArgument)
	}
	return c.transmit(msg)
}

// QueryServices asks the network to enumerate service types under the
// domain via the DNS-SD meta-query, attaching any high-confidence cached
// answers.
func (c *Client) QueryServices(domain string, unicast bool) error {
	owner, err := serviceName("", "", domain)
	if err != nil {
		return err
	}
	owner = serviceEnumerationName.Append(owner)

	q := dnsmsg.Question{Name: owner, Type: dnsmsg.TypePTR, Class: dnsmsg.ClassINET, UnicastResponse: unicast}
	known := c.cache.KnownAnswers(owner, dnsmsg.TypePTR)
	return c.transmit(c.compose([]dnsmsg.Question{q}, known))
}

// QueryService issues one PTR query for a service type, e.g.
// ("_http._tcp", "local").
func (c *Client) QueryService(service, domain string) error {
	owner, err := serviceName("", service, domain)
	if err != nil {
		return err
	}
	q := dnsmsg.Question{Name: owner, Type: dnsmsg.TypePTR, Class: dnsmsg.ClassINET}
	known := c.cache.KnownAnswers(owner, dnsmsg.TypePTR)
	return c.transmit(c.compose([]dnsmsg.Question{q}, known))
}

// QueryServiceInstance issues one query per type for a fully qualified
// instance. When the cache already holds high-confidence answers for
// every requested type, a synthetic response is delivered to the answer
// event without going on the wire.
func (c *Client) QueryServiceInstance(instance, service, domain string, types ...dnsmsg.Type) error {
	owner, err := serviceName(instance, service, domain)
	if err != nil {
		return err
	}
	if len(types) == 0 {
		types = []dnsmsg.Type{dnsmsg.TypeSRV, dnsmsg.TypeTXT}
	}

	var cached []*dnsmsg.Record
	satisfied := true
	for _, t := range types {
		hits := c.cache.KnownAnswers(owner, t)
		if len(hits) == 0 {
			satisfied = false
			break
		}
		cached = append(cached, hits...)
	}
	if satisfied {
		synthetic := &dnsmsg.Message{Response: true, Answers: cached}
		c.handlers.answer(AnswerEvent{Message: synthetic, Added: nil, Updated: cached})
		return nil
	}

	questions := make([]dnsmsg.Question, 0, len(types))
	for _, t := range types {
		questions = append(questions, dnsmsg.Question{Name: owner, Type: t, Class: dnsmsg.ClassINET})
	}
	return c.transmit(c.compose(questions, cached))
}

// ResolveQuery installs a short-lived answer listener, sends the
// question, and waits up to three seconds for a response carrying a
// matching record. Returns nil when the window closes empty.
func (c *Client) ResolveQuery(ctx context.Context, q dnsmsg.Question) (*dnsmsg.Message, error) {
	if len(q.Name) == 0 {
		return nil, fmt.Errorf("%w: empty question name", ErrBadArgument)
	}
	if q.Class == 0 {
		q.Class = dnsmsg.ClassINET
	}

	// Cached data answers without touching the wire.
	if hits := c.cache.Search(q.Name, q.Type); len(hits) > 0 {
		return &dnsmsg.Message{Response: true, Questions: []dnsmsg.Question{q}, Answers: hits}, nil
	}

	events, release := c.handlers.subscribe()
	defer release()

	known := c.cache.KnownAnswers(q.Name, q.Type)
	if err := c.transmit(c.compose([]dnsmsg.Question{q}, known)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, answerWait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case ev, ok := <-events:
			if !ok {
				return nil, nil
			}
			if m := matchAnswer(ev.Message, q); m != nil {
				return m, nil
			}
		}
	}
}

// ResolveInverseQuery resolves an address to its reverse-mapped PTR.
func (c *Client) ResolveInverseQuery(ctx context.Context, ip net.IP) (*dnsmsg.Message, error) {
	if ip == nil {
		return nil, fmt.Errorf("%w: nil address", ErrBadArgument)
	}
	return c.ResolveQuery(ctx, dnsmsg.Question{
		Name:  dnsmsg.NameFromIP(ip),
		Type:  dnsmsg.TypePTR,
		Class: dnsmsg.ClassINET,
	})
}

// ResolveHost resolves a hostname over multicast: A then AAAA.
func (c *Client) ResolveHost(ctx context.Context, host string) ([]net.IP, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBadArgument)
	}
	name, err := dnsmsg.ParseName(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	// Single-label convenience: complete with the mDNS domain.
	if len(name) == 1 {
		name = name.Append(dnsmsg.Name{"local"})
	}

	var out []net.IP
	for _, t := range []dnsmsg.Type{dnsmsg.TypeA, dnsmsg.TypeAAAA} {
		resp, err := c.ResolveQuery(ctx, dnsmsg.Question{Name: name, Type: t, Class: dnsmsg.ClassINET})
		if err != nil {
			return out, err
		}
		if resp == nil {
			continue
		}
		for _, rr := range append(resp.Answers, resp.Additionals...) {
			switch data := rr.Data.(type) {
			case *dnsmsg.A:
				out = append(out, data.Addr)
			case *dnsmsg.AAAA:
				out = append(out, data.Addr)
			}
		}
	}
	return out, nil
}

// ResolveIP resolves an address to a hostname over multicast.
func (c *Client) ResolveIP(ctx context.Context, ip net.IP) (dnsmsg.Name, error) {
	resp, err := c.ResolveInverseQuery(ctx, ip)
	if err != nil || resp == nil {
		return nil, err
	}
	for _, rr := range resp.Answers {
		if ptr, ok := rr.Data.(*dnsmsg.PTR); ok {
			return ptr.Target, nil
		}
	}
	return nil, nil
}

// ServiceInstance is the resolved shape of one DNS-SD instance.
type ServiceInstance struct {
	Name  dnsmsg.Name
	Host  dnsmsg.Name
	Port  uint16
	Addrs []net.IP
	Text  [][]byte
}

// ResolveServiceInstance queries SRV, TXT, A and AAAA for an instance and
// assembles the result. Returns nil when the instance stays silent.
func (c *Client) ResolveServiceInstance(ctx context.Context, instance, service, domain string) (*ServiceInstance, error) {
	owner, err := serviceName(instance, service, domain)
	if err != nil {
		return nil, err
	}

	srvResp, err := c.ResolveQuery(ctx, dnsmsg.Question{Name: owner, Type: dnsmsg.TypeSRV, Class: dnsmsg.ClassINET})
	if err != nil || srvResp == nil {
		return nil, err
	}

	out := &ServiceInstance{Name: owner}
	collect := func(resp *dnsmsg.Message) {
		if resp == nil {
			return
		}
		for _, rr := range append(resp.Answers, resp.Additionals...) {
			switch data := rr.Data.(type) {
			case *dnsmsg.SRV:
				if rr.Name.Equal(owner) {
					out.Host = data.Target
					out.Port = data.Port
				}
			case *dnsmsg.TXT:
				if rr.Name.Equal(owner) {
					out.Text = data.Strings
				}
			case *dnsmsg.A:
				out.Addrs = append(out.Addrs, data.Addr)
			case *dnsmsg.AAAA:
				out.Addrs = append(out.Addrs, data.Addr)
			}
		}
	}
	collect(srvResp)

	txtResp, err := c.ResolveQuery(ctx, dnsmsg.Question{Name: owner, Type: dnsmsg.TypeTXT, Class: dnsmsg.ClassINET})
	if err != nil {
		return out, err
	}
	collect(txtResp)

	if out.Host != nil && len(out.Addrs) == 0 {
		for _, t := range []dnsmsg.Type{dnsmsg.TypeA, dnsmsg.TypeAAAA} {
			resp, err := c.ResolveQuery(ctx, dnsmsg.Question{Name: out.Host, Type: t, Class: dnsmsg.ClassINET})
			if err != nil {
				return out, err
			}
			collect(resp)
		}
	}
	return out, nil
}

// matchAnswer returns the message when it carries a record matching the
// question in its answers or additionals.
func matchAnswer(msg *dnsmsg.Message, q dnsmsg.Question) *dnsmsg.Message {
	if msg == nil {
		return nil
	}
	for _, rr := range append(msg.Answers, msg.Additionals...) {
		if rr.Type == q.Type && rr.Name.Equal(q.Name) {
			return msg
		}
	}
	return nil
}

// serviceName assembles <instance>.<service>.<domain>, validating each
// present part. The service part is typically "_http._tcp".
func serviceName(instance, service, domain string) (dnsmsg.Name, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrBadArgument)
	}
	var name dnsmsg.Name
	if instance != "" {
		// Instance labels may contain spaces and UTF-8; treat the whole
		// string as one label.
		name = append(name, instance)
	}
	if service != "" {
		svc, err := dnsmsg.ParseName(service)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q", ErrBadArgument, service)
		}
		name = name.Append(svc)
	}
	dom, err := dnsmsg.ParseName(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: domain %q", ErrBadArgument, domain)
	}
	return name.Append(dom), nil
}
