package netinfo

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

const pollInterval = 15 * time.Second

// Watcher notifies when the host's interface or address configuration
// changes. It polls rather than hooking platform notification APIs; the
// resolver treats a notification as a hint to re-discover nameservers,
// so latency in the tens of seconds is acceptable.
type Watcher struct {
	ch chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// NewWatcher starts polling immediately.
func NewWatcher() *Watcher {
	w := &Watcher{
		ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	w.done.Add(1)
	go w.loop()
	return w
}

// Changes delivers one token per observed change; tokens coalesce.
func (w *Watcher) Changes() <-chan struct{} {
	return w.ch
}

// Close stops the poller.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.done.Wait()
}

func (w *Watcher) loop() {
	defer w.done.Done()
	defer close(w.ch)

	last := fingerprint()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cur := fingerprint()
			if cur != last {
				last = cur
				select {
				case w.ch <- struct{}{}:
				default:
				}
			}
		case <-w.stop:
			return
		}
	}
}

// fingerprint summarizes the interface table into a comparable string.
func fingerprint() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		var addrs []string
		if list, err := ifc.Addrs(); err == nil {
			for _, a := range list {
				addrs = append(addrs, a.String())
			}
		}
		sort.Strings(addrs)
		parts = append(parts, fmt.Sprintf("%s|%d|%s", ifc.Name, ifc.Flags, strings.Join(addrs, ",")))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
