package mdns

import (
	"net"
	"sync"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

// AnswerEvent reports a stored response: which records were new to the
// cache and which refreshed existing entries.
type AnswerEvent struct {
	Message *dnsmsg.Message
	From    net.Addr
	Added   []*dnsmsg.Record
	Updated []*dnsmsg.Record
}

// QueryEvent reports a question seen on the wire. This client never
// answers; callers running a responder may.
type QueryEvent struct {
	Message *dnsmsg.Message
	From    net.Addr
}

// ErrorEvent reports a socket failure on a receive loop. Parse failures
// are swallowed, not reported.
type ErrorEvent struct {
	Err  error
	From net.Addr
}

// RefreshEvent mirrors the cache curator's refresh-due notification.
type RefreshEvent struct {
	Owner dnsmsg.Name
	Types []dnsmsg.Type
}

// ExpireEvent mirrors the curator's bucket-expired notification.
type ExpireEvent struct {
	Owner dnsmsg.Name
}

// handlers holds the registered callbacks plus ephemeral answer
// subscriptions installed by ResolveQuery. Handlers are invoked
// sequentially from each receive loop.
type handlers struct {
	mu        sync.RWMutex
	onAnswer  func(AnswerEvent)
	onQuery   func(QueryEvent)
	onError   func(ErrorEvent)
	onRefresh func(RefreshEvent)
	onExpire  func(ExpireEvent)

	nextSub int
	subs    map[int]chan AnswerEvent
}

func newHandlers() *handlers {
	return &handlers{subs: make(map[int]chan AnswerEvent)}
}

// subscribe installs a one-shot answer listener; the returned release
// detaches it. Used by the resolve operations for their 3-second window.
func (h *handlers) subscribe() (<-chan AnswerEvent, func()) {
	ch := make(chan AnswerEvent, 16)
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
}

func (h *handlers) answer(ev AnswerEvent) {
	h.mu.RLock()
	fn := h.onAnswer
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *handlers) query(ev QueryEvent) {
	h.mu.RLock()
	fn := h.onQuery
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *handlers) error(ev ErrorEvent) {
	h.mu.RLock()
	fn := h.onError
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *handlers) refresh(ev RefreshEvent) {
	h.mu.RLock()
	fn := h.onRefresh
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *handlers) expire(ev ExpireEvent) {
	h.mu.RLock()
	fn := h.onExpire
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// OnAnswer registers the answer callback. Register before Start.
func (c *Client) OnAnswer(fn func(AnswerEvent)) {
	c.handlers.mu.Lock()
	c.handlers.onAnswer = fn
	c.handlers.mu.Unlock()
}

// OnQuery registers the query callback.
func (c *Client) OnQuery(fn func(QueryEvent)) {
	c.handlers.mu.Lock()
	c.handlers.onQuery = fn
	c.handlers.mu.Unlock()
}

// OnError registers the error callback.
func (c *Client) OnError(fn func(ErrorEvent)) {
	c.handlers.mu.Lock()
	c.handlers.onError = fn
	c.handlers.mu.Unlock()
}

// OnRefresh registers the refresh-due callback.
func (c *Client) OnRefresh(fn func(RefreshEvent)) {
	c.handlers.mu.Lock()
	c.handlers.onRefresh = fn
	c.handlers.mu.Unlock()
}

// OnExpire registers the bucket-expired callback.
func (c *Client) OnExpire(fn func(ExpireEvent)) {
	c.handlers.mu.Lock()
	c.handlers.onExpire = fn
	c.handlers.mu.Unlock()
}
