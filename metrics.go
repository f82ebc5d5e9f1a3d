package leafstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type storeMetrics struct {
	gets         prometheus.Counter
	getHits      prometheus.Counter
	filterSkips  prometheus.Counter
	miniRunsOpen prometheus.Counter
	openErrors   prometheus.Counter
}

func newStoreMetrics(registerer prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{}

	m.gets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gets_total",
		Help: "Total number of point lookups.",
	})

	m.getHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "get_hits_total",
		Help: "Total number of point lookups that returned a value.",
	})

	m.filterSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filter_skips_total",
		Help: "Total number of mini-runs skipped because their filter excluded the key.",
	})

	m.miniRunsOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "miniruns_opened_total",
		Help: "Total number of opened mini-runs.",
	})

	m.openErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "open_errors_total",
		Help: "Total number of segment or mini-run open failures.",
	})

	if registerer != nil {
		prometheus.WrapRegistererWithPrefix("leafstore_", registerer).MustRegister(
			m.gets,
			m.getHits,
			m.filterSkips,
			m.miniRunsOpen,
			m.openErrors,
		)
	}
	return m
}
