package dedup

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

func announcement(host string, ip net.IP) *dnsmsg.Message {
	return &dnsmsg.Message{
		Response: true,
		Answers: []*dnsmsg.Record{
			dnsmsg.NewRecord(dnsmsg.MustParseName(host), dnsmsg.TypeA, 120,
				&dnsmsg.A{Addr: ip}),
		},
	}
}

func TestDuplicateDetection(t *testing.T) {
	s := New()
	msg := announcement("host.local", net.IPv4(10, 0, 0, 1))

	assert.False(t, s.Duplicate(msg, "192.168.1.5:5353"))
	assert.True(t, s.Duplicate(msg, "192.168.1.5:5353"))

	// Same content from a different sender is not a duplicate.
	assert.False(t, s.Duplicate(msg, "192.168.1.6:5353"))
}

func TestTransactionIDExcluded(t *testing.T) {
	s := New()

	m1 := announcement("host.local", net.IPv4(10, 0, 0, 1))
	m2 := announcement("host.local", net.IPv4(10, 0, 0, 1))
	m1.ID = 0
	m2.ID = 0x5555

	assert.False(t, s.Duplicate(m1, "10.0.0.2:5353"))
	assert.True(t, s.Duplicate(m2, "10.0.0.2:5353"))
}

func TestWindowEvictsBySize(t *testing.T) {
	s := New()

	first := announcement("first.local", net.IPv4(10, 0, 0, 1))
	assert.False(t, s.Duplicate(first, "10.0.0.2:5353"))

	for i := 0; i < windowSize; i++ {
		m := announcement(fmt.Sprintf("h%d.local", i), net.IPv4(10, 0, byte(i), 1))
		s.Duplicate(m, "10.0.0.2:5353")
	}

	// first has been pushed out of the FIFO and is fresh again.
	assert.False(t, s.Duplicate(first, "10.0.0.2:5353"))
}

func TestWindowEvictsByAge(t *testing.T) {
	s := New()
	msg := announcement("host.local", net.IPv4(10, 0, 0, 1))

	assert.False(t, s.Duplicate(msg, "10.0.0.2:5353"))

	// Backdate the stored entry past the TTL.
	s.mu.Lock()
	s.fifo[0].seen = time.Now().Add(-windowTTL - time.Second)
	s.mu.Unlock()

	assert.False(t, s.Duplicate(msg, "10.0.0.2:5353"))
}
