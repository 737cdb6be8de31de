// Package dedup suppresses duplicate multicast datagrams. mDNS messages
// carry transaction id zero, so the same announcement arriving on several
// interfaces (or replayed by a bridge) can only be recognized by content:
// we fingerprint the question, answer and additional sections together
// with the sender address and remember recent fingerprints in a small
// FIFO window.
package dedup

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

const (
	// windowSize bounds the FIFO; windowTTL bounds entry age.
	windowSize = 100
	windowTTL  = 5 * time.Second
)

type entry struct {
	fingerprint uint64
	sender      string
	seen        time.Time
}

// Suppressor is safe for concurrent use by the v4 and v6 receive loops.
type Suppressor struct {
	mu  sync.Mutex
	fifo []entry

	// SipHash keys the fingerprint so attacker-controlled datagrams
	// cannot engineer collisions against a known hash.
	k0, k1 uint64
}

// New seeds a suppressor with a random SipHash key.
func New() *Suppressor {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("dedup: crypto/rand failed: " + err.Error())
	}
	return &Suppressor{
		k0: binary.LittleEndian.Uint64(seed[0:8]),
		k1: binary.LittleEndian.Uint64(seed[8:16]),
	}
}

// Duplicate reports whether (msg, sender) was seen inside the window, and
// records it if not. The caller discards duplicates.
func (s *Suppressor) Duplicate(msg *dnsmsg.Message, sender string) bool {
	fp := s.fingerprint(msg)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Age out the front of the window.
	cutoff := now.Add(-windowTTL)
	drop := 0
	for drop < len(s.fifo) && s.fifo[drop].seen.Before(cutoff) {
		drop++
	}
	s.fifo = s.fifo[drop:]

	for _, e := range s.fifo {
		if e.fingerprint == fp && e.sender == sender {
			return true
		}
	}

	if len(s.fifo) >= windowSize {
		s.fifo = s.fifo[1:]
	}
	s.fifo = append(s.fifo, entry{fingerprint: fp, sender: sender, seen: now})
	return false
}

// fingerprint hashes section content. The transaction id is zero on the
// mDNS wire and excluded; authorities rarely appear in announcements and
// are likewise left out.
func (s *Suppressor) fingerprint(msg *dnsmsg.Message) uint64 {
	h := siphash.New(s.key())

	var scratch [8]byte
	writeU16 := func(v uint16) {
		binary.BigEndian.PutUint16(scratch[:2], v)
		h.Write(scratch[:2])
	}

	for _, q := range msg.Questions {
		h.Write([]byte(q.Name.Key()))
		writeU16(uint16(q.Type))
		writeU16(uint16(q.Class))
	}
	for _, rr := range msg.Answers {
		writeU16(uint16(rr.Type))
		h.Write([]byte(rr.Name.Key()))
		binary.BigEndian.PutUint64(scratch[:], rr.Hash())
		h.Write(scratch[:])
	}
	for _, rr := range msg.Additionals {
		writeU16(uint16(rr.Type))
		h.Write([]byte(rr.Name.Key()))
		binary.BigEndian.PutUint64(scratch[:], rr.Hash())
		h.Write(scratch[:])
	}
	return h.Sum64()
}

func (s *Suppressor) key() []byte {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[0:8], s.k0)
	binary.LittleEndian.PutUint64(key[8:16], s.k1)
	return key[:]
}
