/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nio_reconciles_total",
			Help: "Total number of NixosConfiguration reconciliations by result",
		},
		[]string{"result"},
	)

	applyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nio_apply_total",
			Help: "Total number of apply runs by mode and result",
		},
		[]string{"mode", "result"},
	)

	sshFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nio_ssh_failures_total",
			Help: "Total number of SSH transport failures by kind",
		},
		[]string{"kind"},
	)

	gitCloneTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nio_git_clone_total",
			Help: "Total number of Git workspace clones by result",
		},
		[]string{"result"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nio_reconcile_duration_seconds",
			Help:    "Duration of a NixosConfiguration reconciliation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"result"},
	)

	applyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nio_apply_duration_seconds",
			Help:    "Duration of an apply run against a Machine",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"mode"},
	)

	gitCloneDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nio_git_clone_duration_seconds",
			Help:    "Duration of a Git workspace clone",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"result"},
	)

	sshProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nio_ssh_probe_duration_seconds",
			Help:    "Duration of a Machine reachability probe",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	managedMachines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nio_managed_machines",
			Help: "Current number of Machine objects known to the operator",
		},
	)

	machinesReachable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nio_machines_reachable",
			Help: "Current number of Machine objects reporting reachable=true",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcilesTotal,
		applyTotal,
		sshFailuresTotal,
		gitCloneTotal,
		reconcileDuration,
		applyDuration,
		gitCloneDuration,
		sshProbeDuration,
		managedMachines,
		machinesReachable,
	)
}

// RecordReconcileResult records the outcome and duration of one reconcile pass.
func RecordReconcileResult(result string, durationSeconds float64) {
	reconcilesTotal.WithLabelValues(result).Inc()
	reconcileDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordApplyResult records the outcome and duration of one apply run.
func RecordApplyResult(mode, result string, durationSeconds float64) {
	applyTotal.WithLabelValues(mode, result).Inc()
	applyDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordSSHFailure increments the SSH failure counter for the given error kind.
func RecordSSHFailure(kind string) {
	sshFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordGitClone records the outcome and duration of one Git workspace clone.
func RecordGitClone(result string, durationSeconds float64) {
	gitCloneTotal.WithLabelValues(result).Inc()
	gitCloneDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordSSHProbe records the duration of a reachability probe.
func RecordSSHProbe(durationSeconds float64) {
	sshProbeDuration.Observe(durationSeconds)
}

// UpdateMachineGauges sets the managed and reachable Machine gauges.
func UpdateMachineGauges(total, reachable int) {
	managedMachines.Set(float64(total))
	machinesReachable.Set(float64(reachable))
}
