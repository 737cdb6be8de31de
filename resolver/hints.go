package resolver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

// ParseHints reads a zone-file fragment of the root-hints shape: each
// non-comment line is `owner ttl type rdata`, whitespace-delimited, at
// most four columns. A, AAAA, PTR, CNAME, DNAME and NS get typed
// payloads; anything else is carried opaque.
func ParseHints(r io.Reader) ([]*dnsmsg.Record, error) {
	var out []*dnsmsg.Record

	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("hints line %d: %d columns, want 4", lineno, len(fields))
		}
		owner, ttlText, typeText := fields[0], fields[1], fields[2]
		// The fourth column takes the rest of the line.
		rdata := strings.Join(fields[3:], " ")

		name, err := dnsmsg.ParseName(owner)
		if err != nil {
			return nil, fmt.Errorf("hints line %d: %w", lineno, err)
		}
		ttl, err := strconv.ParseUint(ttlText, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("hints line %d: ttl %q", lineno, ttlText)
		}

		typ, known := dnsmsg.TypeFromString(strings.ToUpper(typeText))
		data, err := hintData(typ, known, typeText, rdata)
		if err != nil {
			return nil, fmt.Errorf("hints line %d: %w", lineno, err)
		}
		out = append(out, dnsmsg.NewRecord(name, typ, uint32(ttl), data))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func hintData(typ dnsmsg.Type, known bool, typeText, rdata string) (dnsmsg.RData, error) {
	if !known {
		return &dnsmsg.Opaque{Data: []byte(rdata)}, nil
	}
	switch typ {
	case dnsmsg.TypeA:
		ip := net.ParseIP(rdata)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("bad A address %q", rdata)
		}
		return &dnsmsg.A{Addr: ip.To4()}, nil
	case dnsmsg.TypeAAAA:
		ip := net.ParseIP(rdata)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("bad AAAA address %q", rdata)
		}
		return &dnsmsg.AAAA{Addr: ip}, nil
	case dnsmsg.TypeNS, dnsmsg.TypeCNAME, dnsmsg.TypeDNAME, dnsmsg.TypePTR:
		name, err := dnsmsg.ParseName(rdata)
		if err != nil {
			return nil, err
		}
		switch typ {
		case dnsmsg.TypeNS:
			return &dnsmsg.NS{Host: name}, nil
		case dnsmsg.TypeCNAME:
			return &dnsmsg.CNAME{Target: name}, nil
		case dnsmsg.TypeDNAME:
			return &dnsmsg.DNAME{Target: name}, nil
		default:
			return &dnsmsg.PTR{Target: name}, nil
		}
	default:
		return &dnsmsg.Opaque{Type: typ, Data: []byte(rdata)}, nil
	}
}

// LoadHints reads a hints file and returns the nameservers it describes:
// one per A or AAAA record.
func LoadHints(path string) ([]NameServer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ParseHints(f)
	if err != nil {
		return nil, err
	}

	var servers []NameServer
	for _, rr := range records {
		switch data := rr.Data.(type) {
		case *dnsmsg.A:
			servers = append(servers, NameServer{Addr: data.Addr, DoH: DoHNo})
		case *dnsmsg.AAAA:
			servers = append(servers, NameServer{Addr: data.Addr, DoH: DoHNo})
		}
	}
	return servers, nil
}
