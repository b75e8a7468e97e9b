// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes the engine's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the conversation engine emits.
type Metrics struct {
	TurnsTotal            *prometheus.CounterVec
	DisambiguationsTotal  *prometheus.CounterVec
	ParserFailuresTotal   prometheus.Counter
	MatcherFailuresTotal  prometheus.Counter
	StoreRetriesTotal     prometheus.Counter
	TransitionFaultsTotal prometheus.Counter
	ParseDuration         prometheus.Histogram
}

// NewMetrics builds and registers the engine collectors on reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_turns_total",
			Help: "Inbound messages processed, by flow strategy and outcome.",
		}, []string{"flow", "outcome"}),
		DisambiguationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_disambiguations_total",
			Help: "Disambiguation contexts by lifecycle event (opened, resolved, abandoned, clarified).",
		}, []string{"event"}),
		ParserFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_parser_failures_total",
			Help: "NL parser calls that timed out or errored and degraded to no fields.",
		}),
		MatcherFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_matcher_failures_total",
			Help: "Exercise matcher calls that timed out or errored and degraded to no match.",
		}),
		StoreRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_store_retries_total",
			Help: "Preference store writes that needed a retry.",
		}),
		TransitionFaultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_transition_faults_total",
			Help: "Illegal conversation-step transitions recovered to the safe step.",
		}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_parse_duration_seconds",
			Help:    "Wall time of NL preference parsing per turn.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.TurnsTotal, m.DisambiguationsTotal, m.ParserFailuresTotal,
		m.MatcherFailuresTotal, m.StoreRetriesTotal, m.TransitionFaultsTotal,
		m.ParseDuration,
	)
	return m
}
