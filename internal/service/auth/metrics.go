package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token events: issued (login), rotated (refresh), revoked (logout, stale), rejected
var tokenEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pgtemplate_token_events_total",
		Help: "Token lifecycle events",
	},
	[]string{"event", "reason"},
)

func countEvent(event string, reason string) {
	tokenEvents.WithLabelValues(event, reason).Inc()
}
