// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import "github.com/prometheus/client_golang/prometheus"

var cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "duoauth_session_cache_entries",
	Help: "Number of identities currently held in the session cache",
})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheEntries}
}
