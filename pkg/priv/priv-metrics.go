// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package priv

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	privRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "priv",
		Name:      "access_failures_total",
		Help:      "Checked priv transactions that saw a bus error, by operation.",
	}, []string{"op"})

	privHalts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "priv",
		Name:      "halts_total",
		Help:      "Halts raised by the priv access layer, by error code.",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(privRetries, privHalts)
}
