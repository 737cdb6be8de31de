package dnsmsg

import "strconv"

// Type is a resource record type (RFC 1035 §3.2.2 and successors).
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeSOA   Type = 6
	TypePTR   Type = 12
	TypeTXT   Type = 16
	TypeAAAA  Type = 28
	TypeSRV   Type = 33
	TypeDNAME Type = 39
	TypeOPT   Type = 41
	TypeNSEC  Type = 47
	TypeSVCB  Type = 64
	TypeHTTPS Type = 65
	TypeANY   Type = 255
)

var typeNames = map[Type]string{
	TypeA:     "A",
	TypeNS:    "NS",
	TypeCNAME: "CNAME",
	TypeSOA:   "SOA",
	TypePTR:   "PTR",
	TypeTXT:   "TXT",
	TypeAAAA:  "AAAA",
	TypeSRV:   "SRV",
	TypeDNAME: "DNAME",
	TypeOPT:   "OPT",
	TypeNSEC:  "NSEC",
	TypeSVCB:  "SVCB",
	TypeHTTPS: "HTTPS",
	TypeANY:   "ANY",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(t))
}

// TypeFromString maps a textual mnemonic back to its type code. Unknown
// mnemonics return 0 and false.
func TypeFromString(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Class is a resource record class. Only the low 15 bits are the class
// proper; multicast DNS reuses the top bit as the cache-flush bit on
// records and the unicast-response bit on questions.
type Class uint16

const (
	ClassINET Class = 1
	ClassNONE Class = 254
	ClassANY  Class = 255

	// classTopBit is the mDNS cache-flush / unicast-response overlay.
	classTopBit uint16 = 0x8000
)

func (c Class) String() string {
	switch c {
	case ClassINET:
		return "IN"
	case ClassNONE:
		return "NONE"
	case ClassANY:
		return "ANY"
	}
	return "CLASS" + strconv.Itoa(int(c))
}

// Opcode identifies the kind of query in a message.
type Opcode uint8

const (
	OpcodeQuery  Opcode = 0
	OpcodeIQuery Opcode = 1
	OpcodeStatus Opcode = 2
	OpcodeNotify Opcode = 4
	OpcodeUpdate Opcode = 5
	OpcodeDSO    Opcode = 6
)

func (o Opcode) String() string {
	switch o {
	case OpcodeQuery:
		return "QUERY"
	case OpcodeIQuery:
		return "IQUERY"
	case OpcodeStatus:
		return "STATUS"
	case OpcodeNotify:
		return "NOTIFY"
	case OpcodeUpdate:
		return "UPDATE"
	case OpcodeDSO:
		return "DSO"
	}
	return "OPCODE" + strconv.Itoa(int(o))
}

// Rcode is a response code.
type Rcode uint8

const (
	RcodeNoError        Rcode = 0
	RcodeFormatError    Rcode = 1
	RcodeServerFailure  Rcode = 2
	RcodeNameError      Rcode = 3
	RcodeNotImplemented Rcode = 4
	RcodeRefused        Rcode = 5
	RcodeYXDomain       Rcode = 6
	RcodeYXRRSet        Rcode = 7
	RcodeNXRRSet        Rcode = 8
	RcodeNotAuth        Rcode = 9
	RcodeNotZone        Rcode = 10
	RcodeDSOTypeNI      Rcode = 11
)

func (r Rcode) String() string {
	switch r {
	case RcodeNoError:
		return "NOERROR"
	case RcodeFormatError:
		return "FORMERR"
	case RcodeServerFailure:
		return "SERVFAIL"
	case RcodeNameError:
		return "NXDOMAIN"
	case RcodeNotImplemented:
		return "NOTIMP"
	case RcodeRefused:
		return "REFUSED"
	case RcodeYXDomain:
		return "YXDOMAIN"
	case RcodeYXRRSet:
		return "YXRRSET"
	case RcodeNXRRSet:
		return "NXRRSET"
	case RcodeNotAuth:
		return "NOTAUTH"
	case RcodeNotZone:
		return "NOTZONE"
	case RcodeDSOTypeNI:
		return "DSOTYPENI"
	}
	return "RCODE" + strconv.Itoa(int(r))
}
