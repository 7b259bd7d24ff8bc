package scenecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sharedOpens counts files opened by Shared, including reopens after Erase.
	sharedOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenecache_shared_opens_total",
		Help: "Total scene files opened by shared caches",
	})

	sharedHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenecache_shared_hits_total",
		Help: "Total shared cache lookups answered without opening a file",
	})

	// sharedEvictions counts entries dropped by Erase, Clear or a watched change.
	sharedEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenecache_shared_evictions_total",
		Help: "Total shared cache entries dropped, by reason",
	}, []string{"reason"}) // "erase", "clear" or "watch"

	boundCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenecache_bound_cache_hits_total",
		Help: "Total derived bounds served from the memo cache",
	})

	boundCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenecache_bound_cache_misses_total",
		Help: "Total derived bounds computed",
	})

	// linkResolutions counts link targets resolved by result.
	linkResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenecache_link_resolutions_total",
		Help: "Total link resolutions by result",
	}, []string{"result"}) // "ok" or "error"
)
