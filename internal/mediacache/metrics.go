package mediacache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vview_media_cache_hits_total",
		Help: "Media info lookups answered from memory, by requested fidelity",
	}, []string{"fidelity"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vview_media_cache_misses_total",
		Help: "Media info lookups that needed a fetch, by requested fidelity",
	}, []string{"fidelity"})

	mediaFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vview_media_fetches_total",
		Help: "Media info fetches started, by result",
	}, []string{"status"})

	cachedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vview_media_cache_records",
		Help: "Media info records held in memory",
	})
)

func fidelity(full bool) string {
	if full {
		return "full"
	}
	return "partial"
}
