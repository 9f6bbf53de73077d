// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import "github.com/prometheus/client_golang/prometheus"

var chainsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "duoauth_pipeline_chains_total",
	Help: "Total number of completed pipeline chains by name and status",
}, []string{"chain", "status"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{chainsTotal}
}
