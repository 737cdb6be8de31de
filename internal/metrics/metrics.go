// Package metrics registers the library's prometheus collectors. Callers
// that scrape the default registry get them for free; everyone else pays
// only a counter increment.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueriesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tinydns_queries_total", Help: "Queries sent, by transport"},
		[]string{"transport"},
	)
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tinydns_cache_hits_total", Help: "Cache searches answered from fresh records"},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tinydns_cache_misses_total", Help: "Cache searches with no fresh records"},
	)
	ParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tinydns_parse_errors_total", Help: "Datagrams dropped as malformed"},
	)
	Datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tinydns_mdns_datagrams_total", Help: "Multicast datagrams, by direction"},
		[]string{"dir"},
	)
)

func init() {
	prometheus.MustRegister(QueriesSent, CacheHits, CacheMisses, ParseErrors, Datagrams)
}
