package permissions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisions counts permission outcomes by action and result
	// (master, allow, owner, deny).
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anansi_permission_decisions_total",
		Help: "Class-level permission decisions by action and result",
	}, []string{"action", "result"})
)
