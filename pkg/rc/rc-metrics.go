// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package rc

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rcErrorsFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rc",
		Name:      "errors_flushed_total",
		Help:      "Robust channel errors flushed from a notifier or callback queue, by error code.",
	}, []string{"error"})

	rcRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rc",
		Name:      "recoveries_total",
		Help:      "Group recoveries run by UpdateError, by resulting error code.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(rcErrorsFlushed, rcRecoveries)
}
