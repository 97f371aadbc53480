// Copyright 2025 The Passwordstate Operator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package controller

import (
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	// Register metrics with the global prometheus registry
	metrics.Registry.MustRegister(
		reconcileTotal,
		reconcileDuration,
		handlerErrorsTotal,
		pendingEvents,
		watchEventsTotal,
		watchRestartsTotal,
		watchState,
		cachedResources,
		sweepDuration,
	)
}

var (
	// reconcileTotal is a counter that tracks the total number of reconciliations per trigger
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwordstate_controller_reconcile_total",
			Help: "Total number of reconciliations per trigger",
		},
		[]string{"trigger"},
	)
	// tracking the duration of reconciliations per trigger
	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passwordstate_controller_reconcile_duration_seconds",
			Help:    "Duration of reconciliations per trigger",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
	handlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwordstate_controller_handler_errors_total",
			Help: "Total number of errors encountered by handlers per trigger",
		},
		[]string{"trigger"},
	)
	pendingEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passwordstate_controller_pending_events",
			Help: "Current number of watch events waiting for their PasswordList lock",
		},
	)
	watchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwordstate_controller_watch_events_total",
			Help: "Total number of watch events received per event type",
		},
		[]string{"event_type"},
	)
	watchRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passwordstate_controller_watch_restarts_total",
			Help: "Total number of times the PasswordList watch was re-established",
		},
	)
	watchState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passwordstate_controller_watch_state",
			Help: "Current watch state: 0 disconnected, 1 watching, 2 error, 3 closed",
		},
	)
	cachedResources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passwordstate_controller_cached_resources",
			Help: "Number of PasswordLists currently known to the controller",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passwordstate_controller_sweep_duration_seconds",
			Help:    "Duration of a periodic sweep over all known PasswordLists",
			Buckets: prometheus.DefBuckets,
		},
	)
)
