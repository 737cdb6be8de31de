// Package rrcache is the passive record cache: a sharded map from owner
// name to the set of records observed for it, with mDNS cache-flush
// semantics and TTL-driven expiry. It is populated purely by observation
// of responses, never by zone transfer.
package rrcache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/smarthomeos/tinydns/dnsmsg"
	"github.com/smarthomeos/tinydns/internal/metrics"
)

const (
	// Power of two for mask-based shard selection.
	shardCount = 64

	// Records bearing cache-flush purge same-(owner,type) records, but
	// only those created more than this long ago: a flush burst must not
	// evict its own members.
	flushGrace = 2 * time.Second
)

// StoreResult describes what Store did with a record.
type StoreResult int

const (
	// NoUpdate: the record was filtered and not stored.
	NoUpdate StoreResult = iota
	// Update: an equal record existed and was replaced (TTL refresh).
	Update
	// NewData: the bucket did not contain this record before.
	NewData
)

type bucket struct {
	owner   dnsmsg.Name
	records []*dnsmsg.Record
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Cache is safe for concurrent use. Operations on a single owner name
// serialize on its shard; no ordering is guaranteed across owners.
type Cache struct {
	shards [shardCount]*shard

	events chan Event

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// New creates an empty cache. The curator is not running until Start.
func New() *Cache {
	c := &Cache{
		events: make(chan Event, 64),
		stop:   make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New64a()
	h.Write([]byte(key))
	return c.shards[h.Sum64()&(shardCount-1)]
}

// cacheable filters the types that are never stored: OPT is hop-by-hop
// metadata, opaque payloads cannot be compared meaningfully, and NSEC is
// refused everywhere absent a validator.
func cacheable(rr *dnsmsg.Record) bool {
	if rr.Type == dnsmsg.TypeOPT || rr.Type == dnsmsg.TypeNSEC {
		return false
	}
	if _, opaque := rr.Data.(*dnsmsg.Opaque); opaque {
		return false
	}
	return rr.Data != nil
}

// Store inserts a record, honoring cache-flush coalescing.
func (c *Cache) Store(rr *dnsmsg.Record) StoreResult {
	if !cacheable(rr) {
		return NoUpdate
	}

	key := rr.Name.Key()
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b == nil {
		b = &bucket{owner: rr.Name}
		s.buckets[key] = b
	}

	if rr.CacheFlush {
		cutoff := rr.Created.Add(-flushGrace)
		kept := b.records[:0]
		for _, old := range b.records {
			if old.Type == rr.Type && old.Created.Before(cutoff) {
				continue
			}
			kept = append(kept, old)
		}
		b.records = kept
	}

	for i, old := range b.records {
		if old.Equal(rr) {
			b.records[i] = rr
			return Update
		}
	}
	b.records = append(b.records, rr)
	return NewData
}

// Search returns every fresh record in the owner's bucket whose type
// matches. Expired records encountered on the way are pruned.
func (c *Cache) Search(name dnsmsg.Name, typ dnsmsg.Type) []*dnsmsg.Record {
	key := name.Key()
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b == nil {
		metrics.CacheMisses.Inc()
		return nil
	}

	now := time.Now()
	var out []*dnsmsg.Record
	kept := b.records[:0]
	for _, rr := range b.records {
		if !rr.Fresh(now) {
			continue
		}
		kept = append(kept, rr)
		if rr.Type == typ || typ == dnsmsg.TypeANY {
			out = append(out, rr)
		}
	}
	b.records = kept
	if len(b.records) == 0 {
		delete(s.buckets, key)
	}

	if len(out) == 0 {
		metrics.CacheMisses.Inc()
	} else {
		metrics.CacheHits.Inc()
	}
	return out
}

// KnownAnswers returns records for the owner whose remaining lifetime
// fraction exceeds one half, restricted to the given types. These ride
// along on outgoing mDNS queries so responders may suppress.
func (c *Cache) KnownAnswers(name dnsmsg.Name, types ...dnsmsg.Type) []*dnsmsg.Record {
	key := name.Key()
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b == nil {
		return nil
	}

	now := time.Now()
	var out []*dnsmsg.Record
	for _, rr := range b.records {
		if rr.LifetimeFraction(now) <= 0.5 {
			continue
		}
		for _, t := range types {
			if rr.Type == t {
				out = append(out, rr)
				break
			}
		}
	}
	return out
}

// Flush drops every record. Mainly for tests and client Close.
func (c *Cache) Flush() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.buckets = make(map[string]*bucket)
		s.mu.Unlock()
	}
}

// Len counts cached records across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for _, b := range s.buckets {
			n += len(b.records)
		}
		s.mu.Unlock()
	}
	return n
}

// forEachBucket is used by the curator to iterate without holding more
// than one shard lock at a time.
func (c *Cache) forEachBucket(fn func(s *shard, key string, b *bucket)) {
	for _, s := range c.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			fn(s, key, b)
		}
		s.mu.Unlock()
	}
}
