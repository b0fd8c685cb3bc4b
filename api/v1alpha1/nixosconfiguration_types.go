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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AdditionalFile describes one file to materialize into the working tree
// before the fingerprint is computed and the configuration is applied.
// Exactly one of Inline, SecretRef, or HardwareFacts must be set.
type AdditionalFile struct {
	// Path is the POSIX path, relative to the working tree root, where the
	// file is written. Must not be absolute and must not contain ".." segments.
	// +kubebuilder:validation:Pattern=`^[^/].*`
	Path string `json:"path"`

	// Inline is a literal UTF-8 file content.
	// +optional
	Inline *string `json:"inline,omitempty"`

	// SecretRef sources the file content from a key in a Secret.
	// +optional
	SecretRef *SecretKeyRef `json:"secretRef,omitempty"`

	// HardwareFacts, when true, renders the Machine's current fact map as
	// sorted "key=value" lines.
	// +optional
	HardwareFacts bool `json:"hardwareFacts,omitempty"`
}

// TearDownSpec describes the configuration applied when a NixosConfiguration
// is deleted, before ownership of the Machine is released.
type TearDownSpec struct {
	// Flake is the flake fragment identifier applied during tear-down.
	Flake string `json:"flake"`

	// SkipOnUnreachable determines whether tear-down is skipped (rather than
	// retried indefinitely) when the Machine cannot be reached.
	// +kubebuilder:default=true
	// +optional
	SkipOnUnreachable bool `json:"skipOnUnreachable,omitempty"`
}

// NixosConfigurationSpec defines the desired state for exactly one Machine.
type NixosConfigurationSpec struct {
	// MachineRef is the name of the Machine, in the same namespace, this
	// configuration targets.
	MachineRef string `json:"machineRef"`

	// GitRepo is the Git repository URL (https or ssh) containing the
	// configuration.
	// +kubebuilder:validation:MaxLength=2048
	GitRepo string `json:"gitRepo"`

	// GitRef is a branch, tag, or commit hash to resolve. Defaults to HEAD.
	// +kubebuilder:default="HEAD"
	// +optional
	GitRef string `json:"gitRef,omitempty"`

	// Flake is the flake fragment identifier selecting one system within the
	// repository.
	Flake string `json:"flake"`

	// ConfigurationSubdir is an optional subdirectory within the repository
	// that anchors the working tree root.
	// +optional
	ConfigurationSubdir string `json:"configurationSubdir,omitempty"`

	// FullInstall selects bootstrap mode (true, destructive reimage) versus
	// switch mode (false, activate a new generation on a provisioned host).
	// +kubebuilder:default=false
	// +optional
	FullInstall bool `json:"fullInstall,omitempty"`

	// GitCredentialsSecretRef references a Secret holding either a "token"
	// key (HTTPS bearer) or an "ssh-privatekey" key (SSH URL auth).
	// +optional
	GitCredentialsSecretRef *SecretKeyRef `json:"gitCredentialsSecretRef,omitempty"`

	// AdditionalFiles are materialized into the working tree, in declared
	// order, before the fingerprint is computed.
	// +optional
	AdditionalFiles []AdditionalFile `json:"additionalFiles,omitempty"`

	// OnRemoveFlake, when set, is applied in switch mode against the target
	// Machine when this configuration is deleted, before ownership of the
	// Machine is released.
	// +optional
	OnRemoveFlake *TearDownSpec `json:"onRemoveFlake,omitempty"`
}

// NixosConfigurationPhase enumerates the reconcile state machine's phases.
type NixosConfigurationPhase string

const (
	PhasePending   NixosConfigurationPhase = "Pending"
	PhaseResolving NixosConfigurationPhase = "Resolving"
	PhaseBuilding  NixosConfigurationPhase = "Building"
	PhaseApplying  NixosConfigurationPhase = "Applying"
	PhaseApplied   NixosConfigurationPhase = "Applied"
	PhaseFailed    NixosConfigurationPhase = "Failed"
	PhaseDeleting  NixosConfigurationPhase = "Deleting"
)

// NixosConfigurationStatus defines the observed state of a NixosConfiguration.
type NixosConfigurationStatus struct {
	// Phase is the current reconcile state.
	// +optional
	Phase NixosConfigurationPhase `json:"phase,omitempty"`

	// ObservedGeneration is the generation of the spec last reconciled into
	// Phase == Applied or into a counted (non-reachability) failure.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// AppliedCommit is the 40-character hex Git commit hash last applied.
	// +optional
	AppliedCommit string `json:"appliedCommit,omitempty"`

	// AppliedFingerprint is the fingerprint of the desired state last applied.
	// +optional
	AppliedFingerprint string `json:"appliedFingerprint,omitempty"`

	// TargetMachine is a denormalized copy of spec.machineRef for display.
	// +optional
	TargetMachine string `json:"targetMachine,omitempty"`

	// LastError is a human-readable description of the most recent terminal
	// or retryable error.
	// +optional
	LastError string `json:"lastError,omitempty"`

	// LastTransitionAt is the timestamp of the most recent phase transition.
	// +optional
	LastTransitionAt *metav1.Time `json:"lastTransitionAt,omitempty"`

	// Conditions represent the latest available observations of this
	// configuration's state.
	// +optional
	// +patchMergeKey=type
	// +patchStrategy=merge
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`
}

// Condition types for NixosConfiguration.
const (
	// ConditionApplied indicates the last apply attempt succeeded.
	ConditionApplied string = "Applied"

	// ConditionConflict indicates the target Machine is already owned by a
	// different NixosConfiguration.
	ConditionConflict string = "Conflict"
)

// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Namespaced,shortName=nixcfg
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Machine",type=string,JSONPath=`.spec.machineRef`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Commit",type=string,JSONPath=`.status.appliedCommit`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// NixosConfiguration declares the desired configuration for exactly one Machine.
type NixosConfiguration struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   NixosConfigurationSpec   `json:"spec,omitempty"`
	Status NixosConfigurationStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// NixosConfigurationList contains a list of NixosConfiguration.
type NixosConfigurationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []NixosConfiguration `json:"items"`
}

func init() {
	SchemeBuilder.Register(&NixosConfiguration{}, &NixosConfigurationList{})
}

// FinalizerName is the finalizer the controller places on NixosConfiguration
// objects to guarantee tear-down runs before the object is removed.
const FinalizerName = "nixos.infra/finalizer"
