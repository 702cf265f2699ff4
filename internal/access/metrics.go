package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLookupsTotal counts user-cache lookups by outcome (hit / miss).
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xzaccess_cache_lookups_total",
			Help: "User access cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// resolutionsTotal counts directory resolutions by outcome
	// (resolved / user_not_found / query_error).
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xzaccess_resolutions_total",
			Help: "Directory membership resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// decisionsTotal counts MayAccess verdicts.
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xzaccess_decisions_total",
			Help: "Access decisions by verdict (allowed / denied)",
		},
		[]string{"verdict"},
	)

	// authenticationsTotal counts client authentication attempts by result code.
	authenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xzaccess_authentications_total",
			Help: "Client authentication attempts by result",
		},
		[]string{"result"},
	)

	// cachedUsers tracks how many users currently have a cached access set
	// (memory store only; updated on put and flush).
	cachedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xzaccess_cached_users",
			Help: "Number of users with a cached access set",
		},
	)
)
