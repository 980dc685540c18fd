package svod

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters a Device updates. Counters are only
// exported when NewMetrics is given a registerer.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	HashMismatches prometheus.Counter
	BackingReads   prometheus.Counter
	BackingBytes   prometheus.Counter
}

// NewMetrics creates the device counters and registers them on reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_cache_hits_total",
			Help: "Block resolutions served from the hash tree cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_cache_misses_total",
			Help: "Block resolutions that required a backing read",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_cache_evictions_total",
			Help: "Valid cache slots overwritten by a newer block",
		}),
		HashMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_hash_mismatches_total",
			Help: "Blocks rejected because their digest did not match",
		}),
		BackingReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_backing_reads_total",
			Help: "Raw reads issued against fragment files",
		}),
		BackingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svod_backing_read_bytes_total",
			Help: "Bytes read from fragment files",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheEvictions, m.HashMismatches, m.BackingReads, m.BackingBytes)
	}
	return m
}
