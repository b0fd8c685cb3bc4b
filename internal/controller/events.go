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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
)

// Event reasons emitted against Machine and NixosConfiguration objects.
const (
	ReasonHostKeyLearned    = "HostKeyLearned"
	ReasonHostKeyMismatch   = "HostKeyMismatch"
	ReasonProbeSucceeded    = "ProbeSucceeded"
	ReasonProbeFailed       = "ProbeFailed"
	ReasonGitCloneFailed    = "GitCloneFailed"
	ReasonConflict          = "Conflict"
	ReasonApplyStarted      = "ApplyStarted"
	ReasonApplySucceeded    = "ApplySucceeded"
	ReasonApplyFailed       = "ApplyFailed"
	ReasonTearDownStarted   = "TearDownStarted"
	ReasonTearDownSucceeded = "TearDownSucceeded"
	ReasonTearDownSkipped   = "TearDownSkipped"
)

// EventRecorder emits Kubernetes events for the reconcile lifecycle of
// Machine and NixosConfiguration objects.
type EventRecorder struct {
	recorder record.EventRecorder
}

// NewEventRecorder creates a new EventRecorder.
func NewEventRecorder(recorder record.EventRecorder) *EventRecorder {
	return &EventRecorder{recorder: recorder}
}

// HostKeyLearned emits a normal event the first time a Machine's host key is pinned.
func (e *EventRecorder) HostKeyLearned(obj runtime.Object, hostname string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(obj, corev1.EventTypeNormal, ReasonHostKeyLearned,
		"Pinned host key for %s on first contact", hostname)
}

// HostKeyMismatch emits a warning event when a presented host key no longer
// matches the pinned entry.
func (e *EventRecorder) HostKeyMismatch(obj runtime.Object, hostname string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonHostKeyMismatch,
		"Host key presented by %s no longer matches the pinned entry", hostname)
}

// ProbeSucceeded emits a normal event after a successful reachability probe.
func (e *EventRecorder) ProbeSucceeded(obj runtime.Object, hostname string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(obj, corev1.EventTypeNormal, ReasonProbeSucceeded, "%s is reachable", hostname)
}

// ProbeFailed emits a warning event after a failed reachability probe.
func (e *EventRecorder) ProbeFailed(obj runtime.Object, hostname string, reason string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonProbeFailed, "%s unreachable: %s", hostname, reason)
}

// GitCloneFailed emits a warning event when resolving the configuration repository fails.
func (e *EventRecorder) GitCloneFailed(cfg *nixosv1alpha1.NixosConfiguration, reason string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeWarning, ReasonGitCloneFailed, "clone of %s failed: %s", cfg.Spec.GitRepo, reason)
}

// Conflict emits a warning event when a NixosConfiguration targets a Machine
// already owned by another configuration.
func (e *EventRecorder) Conflict(cfg *nixosv1alpha1.NixosConfiguration, owner string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeWarning, ReasonConflict,
		"Machine %s is already owned by %s", cfg.Spec.MachineRef, owner)
}

// ApplyStarted emits a normal event when an apply run against a Machine begins.
func (e *EventRecorder) ApplyStarted(cfg *nixosv1alpha1.NixosConfiguration, mode string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeNormal, ReasonApplyStarted, "starting %s against %s", mode, cfg.Spec.MachineRef)
}

// ApplySucceeded emits a normal event when an apply run completes successfully.
func (e *EventRecorder) ApplySucceeded(cfg *nixosv1alpha1.NixosConfiguration, commit string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeNormal, ReasonApplySucceeded, "applied commit %s", commit)
}

// ApplyFailed emits a warning event when an apply run fails.
func (e *EventRecorder) ApplyFailed(cfg *nixosv1alpha1.NixosConfiguration, reason string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeWarning, ReasonApplyFailed, "apply failed: %s", reason)
}

// TearDownStarted emits a normal event when the onRemove flake is applied during deletion.
func (e *EventRecorder) TearDownStarted(cfg *nixosv1alpha1.NixosConfiguration) {
	if e.recorder == nil {
		return
	}
	e.recorder.Event(cfg, corev1.EventTypeNormal, ReasonTearDownStarted, "applying tear-down configuration before release")
}

// TearDownSucceeded emits a normal event when tear-down completes.
func (e *EventRecorder) TearDownSucceeded(cfg *nixosv1alpha1.NixosConfiguration) {
	if e.recorder == nil {
		return
	}
	e.recorder.Event(cfg, corev1.EventTypeNormal, ReasonTearDownSucceeded, "tear-down configuration applied")
}

// TearDownSkipped emits a normal event when tear-down is skipped because the
// Machine is unreachable and skipOnUnreachable is set.
func (e *EventRecorder) TearDownSkipped(cfg *nixosv1alpha1.NixosConfiguration, reason string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Eventf(cfg, corev1.EventTypeNormal, ReasonTearDownSkipped, "tear-down skipped: %s", reason)
}

// CreateEventRecorder creates an EventRecorder from a manager's event broadcaster.
func CreateEventRecorder(mgr interface {
	GetEventRecorderFor(name string) record.EventRecorder
}) *EventRecorder {
	return NewEventRecorder(mgr.GetEventRecorderFor("nixos-infra-operator"))
}
