package dnsmsg

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// RData is the typed payload of a resource record. The type set is closed:
// a tagged variant per wire type, with Opaque as the fallback.
type RData interface {
	// appendTo emits the RDATA in wire form, names uncompressed.
	appendTo(dst []byte) []byte
	String() string
}

// A is an IPv4 host address.
type A struct {
	Addr net.IP
}

func (r *A) appendTo(dst []byte) []byte { return append(dst, r.Addr.To4()...) }
func (r *A) String() string             { return r.Addr.String() }

// AAAA is an IPv6 host address.
type AAAA struct {
	Addr net.IP
}

func (r *AAAA) appendTo(dst []byte) []byte { return append(dst, r.Addr.To16()...) }
func (r *AAAA) String() string             { return r.Addr.String() }

// NS names an authoritative server for the owner.
type NS struct {
	Host Name
}

func (r *NS) appendTo(dst []byte) []byte { return appendName(dst, r.Host) }
func (r *NS) String() string             { return r.Host.String() }

// CNAME is the canonical name of an alias.
type CNAME struct {
	Target Name
}

func (r *CNAME) appendTo(dst []byte) []byte { return appendName(dst, r.Target) }
func (r *CNAME) String() string             { return r.Target.String() }

// DNAME redirects an entire subtree.
type DNAME struct {
	Target Name
}

func (r *DNAME) appendTo(dst []byte) []byte { return appendName(dst, r.Target) }
func (r *DNAME) String() string             { return r.Target.String() }

// PTR points from a reverse-mapping or service-enumeration owner to a name.
type PTR struct {
	Target Name
}

func (r *PTR) appendTo(dst []byte) []byte { return appendName(dst, r.Target) }
func (r *PTR) String() string             { return r.Target.String() }

// SOA marks the start of a zone of authority.
type SOA struct {
	MName   Name
	RName   Name
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (r *SOA) appendTo(dst []byte) []byte {
	dst = appendName(dst, r.MName)
	dst = appendName(dst, r.RName)
	dst = binary.BigEndian.AppendUint32(dst, r.Serial)
	dst = binary.BigEndian.AppendUint32(dst, r.Refresh)
	dst = binary.BigEndian.AppendUint32(dst, r.Retry)
	dst = binary.BigEndian.AppendUint32(dst, r.Expire)
	return binary.BigEndian.AppendUint32(dst, r.Minimum)
}

func (r *SOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		r.MName, r.RName, r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum)
}

// TXT carries an ordered list of length-prefixed byte strings.
type TXT struct {
	Strings [][]byte
}

func (r *TXT) appendTo(dst []byte) []byte {
	if len(r.Strings) == 0 {
		return append(dst, 0)
	}
	for _, s := range r.Strings {
		if len(s) > 255 {
			s = s[:255]
		}
		dst = append(dst, byte(len(s)))
		dst = append(dst, s...)
	}
	return dst
}

func (r *TXT) String() string {
	parts := make([]string, len(r.Strings))
	for i, s := range r.Strings {
		parts[i] = strconv.Quote(string(s))
	}
	return strings.Join(parts, " ")
}

// SRV locates the host and port of a service instance (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Name
}

func (r *SRV) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, r.Priority)
	dst = binary.BigEndian.AppendUint16(dst, r.Weight)
	dst = binary.BigEndian.AppendUint16(dst, r.Port)
	return appendName(dst, r.Target)
}

func (r *SRV) String() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target)
}

// SVCBParamKey identifies a service binding parameter (RFC 9460).
type SVCBParamKey uint16

const (
	SVCBMandatory     SVCBParamKey = 0
	SVCBAlpn          SVCBParamKey = 1
	SVCBNoDefaultAlpn SVCBParamKey = 2
	SVCBPort          SVCBParamKey = 3
	SVCBIPv4Hint      SVCBParamKey = 4
	SVCBEch           SVCBParamKey = 5
	SVCBIPv6Hint      SVCBParamKey = 6
	SVCBDohPath       SVCBParamKey = 7
	SVCBOhttp         SVCBParamKey = 8
	SVCBKey255        SVCBParamKey = 255
)

func (k SVCBParamKey) String() string {
	switch k {
	case SVCBMandatory:
		return "mandatory"
	case SVCBAlpn:
		return "alpn"
	case SVCBNoDefaultAlpn:
		return "no-default-alpn"
	case SVCBPort:
		return "port"
	case SVCBIPv4Hint:
		return "ipv4hint"
	case SVCBEch:
		return "ech"
	case SVCBIPv6Hint:
		return "ipv6hint"
	case SVCBDohPath:
		return "dohpath"
	case SVCBOhttp:
		return "ohttp"
	}
	return "key" + strconv.Itoa(int(k))
}

// SVCBParam is one (key, value) pair. Values are kept as raw bytes; the
// parameter order from the wire is preserved.
type SVCBParam struct {
	Key   SVCBParamKey
	Value []byte
}

// SVCB is a service binding record; HTTPS shares the layout and is
// distinguished only by the record type.
type SVCB struct {
	Priority uint16
	Target   Name
	Params   []SVCBParam
}

func (r *SVCB) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, r.Priority)
	dst = appendName(dst, r.Target)
	for _, p := range r.Params {
		dst = binary.BigEndian.AppendUint16(dst, uint16(p.Key))
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.Value)))
		dst = append(dst, p.Value...)
	}
	return dst
}

func (r *SVCB) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", r.Priority, r.Target)
	for _, p := range r.Params {
		fmt.Fprintf(&b, " %s=%x", p.Key, p.Value)
	}
	return b.String()
}

// Opaque carries the raw RDATA of a type the codec does not model.
type Opaque struct {
	Type Type
	Data []byte
}

func (r *Opaque) appendTo(dst []byte) []byte { return append(dst, r.Data...) }
func (r *Opaque) String() string             { return fmt.Sprintf("\\# %d %x", len(r.Data), r.Data) }

// parseRData dispatches on the record type. Every typed parser must
// consume exactly rdlen bytes of the message; anything else is a format
// error. Names inside RDATA may be compressed against the whole message.
func parseRData(msg []byte, off, rdlen int, typ Type) (RData, error) {
	end := off + rdlen
	if end > len(msg) {
		return nil, fmt.Errorf("%w: RDLENGTH %d overruns message", ErrMessageTooShort, rdlen)
	}

	switch typ {
	case TypeA:
		if rdlen != 4 {
			return nil, fmt.Errorf("%w: A with RDLENGTH %d", ErrBadRDLength, rdlen)
		}
		addr := make(net.IP, 4)
		copy(addr, msg[off:end])
		return &A{Addr: addr}, nil

	case TypeAAAA:
		if rdlen != 16 {
			return nil, fmt.Errorf("%w: AAAA with RDLENGTH %d", ErrBadRDLength, rdlen)
		}
		addr := make(net.IP, 16)
		copy(addr, msg[off:end])
		return &AAAA{Addr: addr}, nil

	case TypeNS, TypeCNAME, TypeDNAME, TypePTR:
		name, next, err := parseName(msg, off)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, fmt.Errorf("%w: name RDATA consumed %d of %d", ErrBadRDLength, next-off, rdlen)
		}
		switch typ {
		case TypeNS:
			return &NS{Host: name}, nil
		case TypeCNAME:
			return &CNAME{Target: name}, nil
		case TypeDNAME:
			return &DNAME{Target: name}, nil
		default:
			return &PTR{Target: name}, nil
		}

	case TypeSOA:
		mname, next, err := parseName(msg, off)
		if err != nil {
			return nil, err
		}
		rname, next, err := parseName(msg, next)
		if err != nil {
			return nil, err
		}
		if end-next != 20 {
			return nil, fmt.Errorf("%w: SOA intervals", ErrBadRDLength)
		}
		return &SOA{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(msg[next:]),
			Refresh: binary.BigEndian.Uint32(msg[next+4:]),
			Retry:   binary.BigEndian.Uint32(msg[next+8:]),
			Expire:  binary.BigEndian.Uint32(msg[next+12:]),
			Minimum: binary.BigEndian.Uint32(msg[next+16:]),
		}, nil

	case TypeTXT:
		var strs [][]byte
		pos := off
		for pos < end {
			l := int(msg[pos])
			pos++
			if pos+l > end {
				return nil, fmt.Errorf("%w: TXT substring overruns RDATA", ErrBadRDLength)
			}
			s := make([]byte, l)
			copy(s, msg[pos:pos+l])
			strs = append(strs, s)
			pos += l
		}
		return &TXT{Strings: strs}, nil

	case TypeSRV:
		if rdlen < 7 {
			return nil, fmt.Errorf("%w: SRV with RDLENGTH %d", ErrBadRDLength, rdlen)
		}
		target, next, err := parseName(msg, off+6)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, fmt.Errorf("%w: SRV target", ErrBadRDLength)
		}
		return &SRV{
			Priority: binary.BigEndian.Uint16(msg[off:]),
			Weight:   binary.BigEndian.Uint16(msg[off+2:]),
			Port:     binary.BigEndian.Uint16(msg[off+4:]),
			Target:   target,
		}, nil

	case TypeSVCB, TypeHTTPS:
		if rdlen < 3 {
			return nil, fmt.Errorf("%w: SVCB with RDLENGTH %d", ErrBadRDLength, rdlen)
		}
		target, next, err := parseName(msg, off+2)
		if err != nil {
			return nil, err
		}
		rr := &SVCB{
			Priority: binary.BigEndian.Uint16(msg[off:]),
			Target:   target,
		}
		pos := next
		for pos < end {
			if pos+4 > end {
				return nil, fmt.Errorf("%w: SVCB param header", ErrBadRDLength)
			}
			key := SVCBParamKey(binary.BigEndian.Uint16(msg[pos:]))
			vlen := int(binary.BigEndian.Uint16(msg[pos+2:]))
			pos += 4
			if pos+vlen > end {
				return nil, fmt.Errorf("%w: SVCB param value", ErrBadRDLength)
			}
			val := make([]byte, vlen)
			copy(val, msg[pos:pos+vlen])
			rr.Params = append(rr.Params, SVCBParam{Key: key, Value: val})
			pos += vlen
		}
		return rr, nil

	default:
		data := make([]byte, rdlen)
		copy(data, msg[off:end])
		return &Opaque{Type: typ, Data: data}, nil
	}
}
