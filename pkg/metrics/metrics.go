// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects Prometheus counters and histograms for the
// serving core on a private registry. Mounting a scrape endpoint is the
// transport layer's job; the core only exposes the Gatherer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the core's instrumentation surface. Safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	fallbacks       prometheus.Counter
	responseSeconds *prometheus.HistogramVec
	loadedModels    prometheus.Gauge
	tierLoad        *prometheus.GaugeVec
}

// New creates a metrics set on a fresh private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heddle_requests_total",
			Help: "Generation requests by provider, tier, and outcome.",
		}, []string{"provider", "tier", "outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heddle_fallbacks_total",
			Help: "Requests served by a fallback tier or provider.",
		}),
		responseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heddle_response_seconds",
			Help:    "Generation latency by tier.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"tier"}),
		loadedModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heddle_loaded_models",
			Help: "Models currently resident on the local backend.",
		}),
		tierLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heddle_tier_load",
			Help: "In-flight requests per tier.",
		}, []string{"tier"}),
	}

	m.registry.MustRegister(m.requests, m.fallbacks, m.responseSeconds, m.loadedModels, m.tierLoad)
	return m
}

// RecordRequest counts one generation attempt and its latency.
func (m *Metrics) RecordRequest(provider, tier string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(provider, tier, outcome).Inc()
	m.responseSeconds.WithLabelValues(tier).Observe(elapsed.Seconds())
}

// RecordFallback counts one fallback attempt.
func (m *Metrics) RecordFallback() {
	m.fallbacks.Inc()
}

// SetLoadedModels records the current resident-model count.
func (m *Metrics) SetLoadedModels(n int) {
	m.loadedModels.Set(float64(n))
}

// SetTierLoad records one tier's in-flight request count.
func (m *Metrics) SetTierLoad(tier string, n int64) {
	m.tierLoad.WithLabelValues(tier).Set(float64(n))
}

// Gatherer exposes the private registry for an external scrape mount.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
