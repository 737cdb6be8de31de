package rrcache

import (
	"time"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

const (
	curatorInterval = 4 * time.Second

	// Records below this remaining-lifetime fraction are marked stale
	// and reported for refresh.
	staleFraction = 1.0 / 8
)

// EventKind distinguishes curator notifications.
type EventKind int

const (
	// RefreshDue: records for Owner are approaching expiry; Types lists
	// the distinct types observed.
	RefreshDue EventKind = iota
	// Expired: the bucket for Owner lost records to expiry and nothing
	// else happened to it this pass.
	Expired
)

// Event is a curator notification. Consumed by the multicast client,
// which answers RefreshDue with new queries.
type Event struct {
	Kind  EventKind
	Owner dnsmsg.Name
	Types []dnsmsg.Type
}

// Events is the curator notification stream. Slow consumers lose events
// rather than stalling the curator.
func (c *Cache) Events() <-chan Event {
	return c.events
}

// Start launches the curator loop. Only the mDNS cache runs one; the
// resolver's cache expires lazily on access.
func (c *Cache) Start() {
	c.done.Add(1)
	go c.curate()
}

// Stop halts the curator and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.done.Wait()
}

func (c *Cache) curate() {
	defer c.done.Done()

	ticker := time.NewTicker(curatorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.pass()
		case <-c.stop:
			return
		}
	}
}

// pass sweeps every bucket once: evict expired records, mark records in
// their last eighth of life stale, and emit the corresponding events.
func (c *Cache) pass() {
	now := time.Now()

	type note struct {
		kind  EventKind
		owner dnsmsg.Name
		types []dnsmsg.Type
	}
	var notes []note

	c.forEachBucket(func(s *shard, key string, b *bucket) {
		expired := false
		var due []dnsmsg.Type

		kept := b.records[:0]
		for _, rr := range b.records {
			if !rr.Fresh(now) {
				expired = true
				continue
			}
			kept = append(kept, rr)
			if !rr.Stale && rr.LifetimeFraction(now) < staleFraction {
				rr.Stale = true
				seen := false
				for _, t := range due {
					if t == rr.Type {
						seen = true
						break
					}
				}
				if !seen {
					due = append(due, rr.Type)
				}
			}
		}
		b.records = kept
		if len(b.records) == 0 {
			delete(s.buckets, key)
		}

		switch {
		case len(due) > 0:
			notes = append(notes, note{RefreshDue, b.owner, due})
		case expired:
			notes = append(notes, note{Expired, b.owner, nil})
		}
	})

	// Emit outside the shard locks.
	for _, n := range notes {
		select {
		case c.events <- Event{Kind: n.kind, Owner: n.owner, Types: n.types}:
		default:
		}
	}
}
