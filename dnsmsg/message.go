package dnsmsg

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	headerSize = 12

	// Per-section record ceiling; far above anything legitimate.
	maxSectionRecords = 256
)

// Question is one entry of the question section. UnicastResponse is the
// mDNS reuse of the class top bit.
type Question struct {
	Name            Name
	Type            Type
	Class           Class
	UnicastResponse bool
}

func (q Question) String() string {
	return fmt.Sprintf("%s %s %s", q.Name, q.Class, q.Type)
}

// Message is a DNS message: the 12-byte header plus the four ordered
// sections.
type Message struct {
	ID uint16

	Response           bool
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	AuthenticData      bool
	CheckingDisabled   bool
	Opcode             Opcode
	Rcode              Rcode

	Questions   []Question
	Answers     []*Record
	Authorities []*Record
	Additionals []*Record
}

// NewQuery builds a single-question query message.
func NewQuery(id uint16, name Name, typ Type) *Message {
	return &Message{
		ID:        id,
		Questions: []Question{{Name: name, Type: typ, Class: ClassINET}},
	}
}

// ParseMessage parses a complete wire-format message. Record expiries are
// fixed against the current instant. Responses with TC set fail with
// ErrTruncated and are dropped by every caller in this library.
func ParseMessage(buf []byte) (*Message, error) {
	return parseMessageAt(buf, time.Now())
}

func parseMessageAt(buf []byte, now time.Time) (*Message, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrMessageTooShort, len(buf))
	}

	m := &Message{ID: binary.BigEndian.Uint16(buf[0:2])}

	flags := binary.BigEndian.Uint16(buf[2:4])
	m.Response = flags&0x8000 != 0
	m.Opcode = Opcode(flags >> 11 & 0x0F)
	m.Authoritative = flags&0x0400 != 0
	m.Truncated = flags&0x0200 != 0
	m.RecursionDesired = flags&0x0100 != 0
	m.RecursionAvailable = flags&0x0080 != 0
	m.AuthenticData = flags&0x0020 != 0
	m.CheckingDisabled = flags&0x0010 != 0
	m.Rcode = Rcode(flags & 0x0F)

	if m.Truncated {
		return nil, ErrTruncated
	}

	qd := int(binary.BigEndian.Uint16(buf[4:6]))
	an := int(binary.BigEndian.Uint16(buf[6:8]))
	ns := int(binary.BigEndian.Uint16(buf[8:10]))
	ar := int(binary.BigEndian.Uint16(buf[10:12]))
	for _, count := range []int{qd, an, ns, ar} {
		if count > maxSectionRecords {
			return nil, fmt.Errorf("%w: %d entries", ErrSectionTooLarge, count)
		}
	}

	pos := headerSize
	for i := 0; i < qd; i++ {
		q, next, err := parseQuestion(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		m.Questions = append(m.Questions, q)
		pos = next
	}

	var err error
	if m.Answers, pos, err = parseSection(buf, pos, an, now); err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}
	if m.Authorities, pos, err = parseSection(buf, pos, ns, now); err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}
	if m.Additionals, _, err = parseSection(buf, pos, ar, now); err != nil {
		return nil, fmt.Errorf("additional section: %w", err)
	}
	return m, nil
}

func parseQuestion(buf []byte, offset int) (Question, int, error) {
	name, pos, err := parseName(buf, offset)
	if err != nil {
		return Question{}, offset, err
	}
	if pos+4 > len(buf) {
		return Question{}, offset, fmt.Errorf("%w: question fields", ErrMessageTooShort)
	}
	rawClass := binary.BigEndian.Uint16(buf[pos+2:])
	return Question{
		Name:            name,
		Type:            Type(binary.BigEndian.Uint16(buf[pos:])),
		Class:           Class(rawClass &^ classTopBit),
		UnicastResponse: rawClass&classTopBit != 0,
	}, pos + 4, nil
}

func parseSection(buf []byte, offset, count int, now time.Time) ([]*Record, int, error) {
	if count == 0 {
		return nil, offset, nil
	}
	rrs := make([]*Record, 0, count)
	pos := offset
	for i := 0; i < count; i++ {
		rr, next, err := parseRecord(buf, pos, now)
		if err != nil {
			return nil, offset, fmt.Errorf("record %d: %w", i, err)
		}
		rrs = append(rrs, rr)
		pos = next
	}
	return rrs, pos, nil
}

// Bytes emits the message in wire form. Names are never compressed on
// output.
func (m *Message) Bytes() []byte {
	return m.AppendTo(make([]byte, 0, 512))
}

// AppendTo emits into a caller-supplied buffer, letting senders reuse
// pooled storage.
func (m *Message) AppendTo(buf []byte) []byte {
	start := len(buf)
	dst := append(buf, make([]byte, headerSize)...)

	binary.BigEndian.PutUint16(dst[start:start+2], m.ID)

	var flags uint16
	if m.Response {
		flags |= 0x8000
	}
	flags |= uint16(m.Opcode&0x0F) << 11
	if m.Authoritative {
		flags |= 0x0400
	}
	if m.Truncated {
		flags |= 0x0200
	}
	if m.RecursionDesired {
		flags |= 0x0100
	}
	if m.RecursionAvailable {
		flags |= 0x0080
	}
	if m.AuthenticData {
		flags |= 0x0020
	}
	if m.CheckingDisabled {
		flags |= 0x0010
	}
	flags |= uint16(m.Rcode & 0x0F)
	binary.BigEndian.PutUint16(dst[start+2:start+4], flags)

	binary.BigEndian.PutUint16(dst[start+4:start+6], uint16(len(m.Questions)))
	binary.BigEndian.PutUint16(dst[start+6:start+8], uint16(len(m.Answers)))
	binary.BigEndian.PutUint16(dst[start+8:start+10], uint16(len(m.Authorities)))
	binary.BigEndian.PutUint16(dst[start+10:start+12], uint16(len(m.Additionals)))

	for _, q := range m.Questions {
		dst = appendName(dst, q.Name)
		dst = binary.BigEndian.AppendUint16(dst, uint16(q.Type))
		class := uint16(q.Class) &^ classTopBit
		if q.UnicastResponse {
			class |= classTopBit
		}
		dst = binary.BigEndian.AppendUint16(dst, class)
	}
	for _, rr := range m.Answers {
		dst = appendRecord(dst, rr)
	}
	for _, rr := range m.Authorities {
		dst = appendRecord(dst, rr)
	}
	for _, rr := range m.Additionals {
		dst = appendRecord(dst, rr)
	}
	return dst
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, ";; id %d opcode %s rcode %s", m.ID, m.Opcode, m.Rcode)
	for _, f := range []struct {
		set  bool
		name string
	}{
		{m.Response, "qr"}, {m.Authoritative, "aa"}, {m.Truncated, "tc"},
		{m.RecursionDesired, "rd"}, {m.RecursionAvailable, "ra"},
		{m.AuthenticData, "ad"}, {m.CheckingDisabled, "cd"},
	} {
		if f.set {
			b.WriteByte(' ')
			b.WriteString(f.name)
		}
	}
	for _, q := range m.Questions {
		fmt.Fprintf(&b, "\n;%s", q)
	}
	for _, rr := range m.Answers {
		fmt.Fprintf(&b, "\n%s", rr)
	}
	for _, rr := range m.Authorities {
		fmt.Fprintf(&b, "\n%s", rr)
	}
	for _, rr := range m.Additionals {
		fmt.Fprintf(&b, "\n%s", rr)
	}
	return b.String()
}
