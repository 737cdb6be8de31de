package dnsmsg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Record is a resource record with its TTL resolved to an absolute expiry
// at parse time. Created and Expires carry monotonic clock readings, so a
// record's remaining lifetime only ever shrinks.
type Record struct {
	Name       Name
	Type       Type
	Class      Class
	CacheFlush bool // mDNS top bit of class on responses
	TTL        uint32
	Created    time.Time
	Expires    time.Time
	Stale      bool // set by the cache curator when a refresh is due
	Data       RData
}

// NewRecord builds a record whose expiry starts now.
func NewRecord(name Name, typ Type, ttl uint32, data RData) *Record {
	now := time.Now()
	return &Record{
		Name:    name,
		Type:    typ,
		Class:   ClassINET,
		TTL:     ttl,
		Created: now,
		Expires: now.Add(time.Duration(ttl) * time.Second),
		Data:    data,
	}
}

// Fresh reports whether the record has not yet expired at the given
// instant.
func (r *Record) Fresh(now time.Time) bool {
	return now.Before(r.Expires)
}

// LifetimeFraction is (expiry-now)/(expiry-created), clamped to [0,1].
// The curator marks records stale below 1/8; known-answer suppression
// attaches records above 1/2.
func (r *Record) LifetimeFraction(now time.Time) float64 {
	total := r.Expires.Sub(r.Created)
	if total <= 0 {
		return 0
	}
	left := r.Expires.Sub(now)
	if left <= 0 {
		return 0
	}
	f := float64(left) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}

// rdataBytes is the canonical payload used for equality and hashing.
func (r *Record) rdataBytes() []byte {
	if r.Data == nil {
		return nil
	}
	return r.Data.appendTo(nil)
}

// Equal compares (type, case-folded owner, RDATA content). Cache-flush
// and TTL are metadata and excluded.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Type == other.Type &&
		r.Name.Equal(other.Name) &&
		bytes.Equal(r.rdataBytes(), other.rdataBytes())
}

// Hash is FNV-1a over the same fields Equal compares.
func (r *Record) Hash() uint64 {
	h := fnv.New64a()
	var tb [2]byte
	binary.BigEndian.PutUint16(tb[:], uint16(r.Type))
	h.Write(tb[:])
	for _, label := range r.Name {
		h.Write([]byte(strings.ToLower(label)))
		h.Write([]byte{0})
	}
	h.Write(r.rdataBytes())
	return h.Sum64()
}

func (r *Record) String() string {
	data := ""
	if r.Data != nil {
		data = r.Data.String()
	}
	return fmt.Sprintf("%s %d %s %s %s", r.Name, r.TTL, r.Class, r.Type, data)
}

// parseRecord reads one resource record at offset, decoding the TTL to an
// absolute expiry against now.
func parseRecord(msg []byte, offset int, now time.Time) (*Record, int, error) {
	name, pos, err := parseName(msg, offset)
	if err != nil {
		return nil, offset, fmt.Errorf("record owner: %w", err)
	}
	if pos+10 > len(msg) {
		return nil, offset, fmt.Errorf("%w: record header", ErrMessageTooShort)
	}

	typ := Type(binary.BigEndian.Uint16(msg[pos:]))
	rawClass := binary.BigEndian.Uint16(msg[pos+2:])
	ttl := binary.BigEndian.Uint32(msg[pos+4:])
	rdlen := int(binary.BigEndian.Uint16(msg[pos+8:]))
	pos += 10

	data, err := parseRData(msg, pos, rdlen, typ)
	if err != nil {
		return nil, offset, fmt.Errorf("%s RDATA: %w", typ, err)
	}
	pos += rdlen

	return &Record{
		Name:       name,
		Type:       typ,
		Class:      Class(rawClass &^ classTopBit),
		CacheFlush: rawClass&classTopBit != 0,
		TTL:        ttl,
		Created:    now,
		Expires:    now.Add(time.Duration(ttl) * time.Second),
		Data:       data,
	}, pos, nil
}

// appendRecord emits the record header, reserves two bytes for RDLENGTH,
// writes the payload and backfills the length.
func appendRecord(dst []byte, r *Record) []byte {
	dst = appendName(dst, r.Name)
	dst = binary.BigEndian.AppendUint16(dst, uint16(r.Type))
	class := uint16(r.Class) &^ classTopBit
	if r.CacheFlush {
		class |= classTopBit
	}
	dst = binary.BigEndian.AppendUint16(dst, class)
	dst = binary.BigEndian.AppendUint32(dst, r.TTL)

	lenAt := len(dst)
	dst = append(dst, 0, 0)
	if r.Data != nil {
		dst = r.Data.appendTo(dst)
	}
	binary.BigEndian.PutUint16(dst[lenAt:], uint16(len(dst)-lenAt-2))
	return dst
}
