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

package operation

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	resultSuccess = "success"
	resultError   = "error"
	// resultSkipped marks an operation aborted because Passwordstate could
	// not be read.
	resultSkipped = "skipped"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwordstate_operations_total",
			Help: "Total number of operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	secretWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwordstate_secret_writes_total",
			Help: "Total number of Secret mutations by action",
		},
		[]string{"action"},
	)
	deploymentRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passwordstate_deployment_restarts_total",
			Help: "Total number of deployment restarts triggered by credential changes",
		},
	)
	adoptedSecretsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passwordstate_adopted_secrets_total",
			Help: "Total number of replaced Secrets that were not created by the operator",
		},
	)
	lastSyncTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "passwordstate_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful synchronization per password list",
		},
		[]string{"passwordlist"},
	)
)

func recordOperation(operation string, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}

func init() {
	metrics.Registry.MustRegister(
		operationsTotal,
		secretWritesTotal,
		deploymentRestartsTotal,
		adoptedSecretsTotal,
		lastSyncTimestamp,
	)
}
