package dnsmsg

import (
	"errors"
	"net"
	"testing"
)

func TestParseHeader(t *testing.T) {
	buf := []byte{
		0x12, 0x34, // ID
		0x81, 0x80, // QR=1 RD=1 RA=1
		0x00, 0x01, // QDCOUNT = 1
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,

		// Question so the count is honest.
		0x03, 'f', 'o', 'o', 0x00,
		0x00, 0x01, 0x00, 0x01,
	}

	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.ID != 0x1234 {
		t.Errorf("ID = %#x, want 0x1234", m.ID)
	}
	if !m.Response || !m.RecursionDesired || !m.RecursionAvailable {
		t.Error("QR/RD/RA should all be set")
	}
	if m.Rcode != RcodeNoError {
		t.Errorf("Rcode = %s", m.Rcode)
	}
	if len(m.Questions) != 1 || len(m.Answers) != 0 ||
		len(m.Authorities) != 0 || len(m.Additionals) != 0 {
		t.Errorf("sections = %d/%d/%d/%d", len(m.Questions),
			len(m.Answers), len(m.Authorities), len(m.Additionals))
	}
}

func TestParseTruncatedDiscarded(t *testing.T) {
	buf := []byte{
		0x12, 0x34,
		0x83, 0x80, // QR=1 TC=1
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	_, err := ParseMessage(buf)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		ID:                 0xBEEF,
		Response:           true,
		Authoritative:      true,
		RecursionDesired:   true,
		RecursionAvailable: true,
		Rcode:              RcodeNoError,
		Questions: []Question{{
			Name:  MustParseName("svc.example.com"),
			Type:  TypeSRV,
			Class: ClassINET,
		}},
		Answers: []*Record{
			NewRecord(MustParseName("svc.example.com"), TypeSRV, 600,
				&SRV{Priority: 1, Weight: 2, Port: 443,
					Target: MustParseName("web.example.com")}),
		},
		Authorities: []*Record{
			NewRecord(MustParseName("example.com"), TypeNS, 86400,
				&NS{Host: MustParseName("ns1.example.com")}),
		},
		Additionals: []*Record{
			NewRecord(MustParseName("web.example.com"), TypeA, 600,
				&A{Addr: net.IPv4(198, 51, 100, 7)}),
			NewRecord(MustParseName("web.example.com"), TypeAAAA, 600,
				&AAAA{Addr: net.ParseIP("2001:db8::7")}),
		},
	}

	got, err := ParseMessage(m.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if got.ID != m.ID || got.Response != m.Response ||
		got.Authoritative != m.Authoritative ||
		got.RecursionDesired != m.RecursionDesired ||
		got.RecursionAvailable != m.RecursionAvailable ||
		got.Rcode != m.Rcode || got.Opcode != m.Opcode {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Questions) != 1 || !got.Questions[0].Name.Equal(m.Questions[0].Name) {
		t.Errorf("questions = %+v", got.Questions)
	}
	for i, want := range m.Answers {
		if !got.Answers[i].Equal(want) {
			t.Errorf("answer %d mismatch", i)
		}
	}
	for i, want := range m.Authorities {
		if !got.Authorities[i].Equal(want) {
			t.Errorf("authority %d mismatch", i)
		}
	}
	for i, want := range m.Additionals {
		if !got.Additionals[i].Equal(want) {
			t.Errorf("additional %d mismatch", i)
		}
	}
}

func TestQuestionUnicastResponseBit(t *testing.T) {
	m := NewQuery(0, MustParseName("printer.local"), TypePTR)
	m.Questions[0].UnicastResponse = true

	got, err := ParseMessage(m.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	q := got.Questions[0]
	if !q.UnicastResponse {
		t.Error("unicast-response bit lost")
	}
	if q.Class != ClassINET {
		t.Errorf("class = %s, want IN", q.Class)
	}
}

func TestRecordCacheFlushBit(t *testing.T) {
	rr := NewRecord(MustParseName("host.local"), TypeA, 120,
		&A{Addr: net.IPv4(169, 254, 1, 2)})
	rr.CacheFlush = true
	m := &Message{Response: true, Answers: []*Record{rr}}

	got, err := ParseMessage(m.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Answers[0].CacheFlush {
		t.Error("cache-flush bit lost")
	}
	if got.Answers[0].Class != ClassINET {
		t.Errorf("class = %s, want IN", got.Answers[0].Class)
	}
}

func TestSectionCountCeiling(t *testing.T) {
	buf := []byte{
		0x00, 0x00,
		0x80, 0x00,
		0x00, 0x00,
		0xFF, 0xFF, // 65535 answers
		0x00, 0x00, 0x00, 0x00,
	}

	_, err := ParseMessage(buf)
	if !errors.Is(err, ErrSectionTooLarge) {
		t.Errorf("expected ErrSectionTooLarge, got %v", err)
	}
}

func FuzzParseMessage(f *testing.F) {
	f.Add([]byte{
		0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00,
		0x00, 0x01, 0x00, 0x01,
	})
	f.Add([]byte{
		0x12, 0x34, 0x81, 0x80, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
		0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00,
		0x00, 0x01, 0x00, 0x01,
		0xC0, 0x0C, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x3C,
		0x00, 0x04, 192, 0, 2, 1,
	})
	f.Add([]byte{0xC0, 0x02, 0xC0, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic; errors are fine.
		m, err := ParseMessage(data)
		if err == nil && m != nil {
			_ = m.Bytes()
		}
	})
}
