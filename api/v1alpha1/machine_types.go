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

// SecretKeyRef identifies a key within a Secret in the Machine's namespace.
type SecretKeyRef struct {
	// Name is the Secret name.
	Name string `json:"name"`

	// Key is the data key within the Secret. Defaults vary by field.
	// +optional
	Key string `json:"key,omitempty"`
}

// MachineSpec defines the desired identity and credentials of a remote host.
type MachineSpec struct {
	// Hostname is the DNS name or IP address (v4 or v6) used to reach the host.
	// +kubebuilder:validation:MaxLength=253
	Hostname string `json:"hostname"`

	// SSHUser is the username used for SSH sessions.
	// +kubebuilder:default="root"
	// +optional
	SSHUser string `json:"sshUser,omitempty"`

	// SSHPort is the TCP port for SSH sessions.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	// +kubebuilder:default=22
	// +optional
	SSHPort int `json:"sshPort,omitempty"`

	// SSHKeySecretRef references a Secret whose "ssh-privatekey" key holds a
	// PEM-encoded private key used for authenticated sessions and applies.
	// +optional
	SSHKeySecretRef *SecretKeyRef `json:"sshKeySecretRef,omitempty"`

	// SSHPasswordSecretRef references a Secret holding a password used only
	// for the discoverability probe and hardware scan, never for applying
	// configuration. Key defaults to "password".
	// +optional
	SSHPasswordSecretRef *SecretKeyRef `json:"sshPasswordSecretRef,omitempty"`
}

// MachineStatus defines the observed state of a remote host.
type MachineStatus struct {
	// Reachable indicates whether the last discoverability probe succeeded.
	// +optional
	Reachable bool `json:"reachable,omitempty"`

	// LastReachableAt is the timestamp of the last successful probe.
	// +optional
	LastReachableAt *metav1.Time `json:"lastReachableAt,omitempty"`

	// Facts holds the flat key=value hardware facts collected from the host.
	// +optional
	Facts map[string]string `json:"facts,omitempty"`

	// HasConfiguration indicates whether a NixosConfiguration currently owns
	// this Machine.
	// +optional
	HasConfiguration bool `json:"hasConfiguration,omitempty"`

	// AppliedConfiguration is the name of the NixosConfiguration currently
	// owning this Machine, or empty if none.
	// +optional
	AppliedConfiguration string `json:"appliedConfiguration,omitempty"`

	// AppliedCommit is the 40-character hex Git commit hash last applied.
	// +optional
	AppliedCommit string `json:"appliedCommit,omitempty"`

	// AppliedFingerprint is the fingerprint of the desired state last applied.
	// +optional
	AppliedFingerprint string `json:"appliedFingerprint,omitempty"`

	// LastAppliedAt is the timestamp of the last successful apply.
	// +optional
	LastAppliedAt *metav1.Time `json:"lastAppliedAt,omitempty"`

	// Conditions represent the latest available observations of the Machine's state.
	// +optional
	// +patchMergeKey=type
	// +patchStrategy=merge
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`
}

// Condition types for Machine.
const (
	// ConditionReachable indicates the last probe result.
	ConditionReachable string = "Reachable"

	// ConditionHostKeyMismatch indicates the stored host key fingerprint no
	// longer matches what the host presents.
	ConditionHostKeyMismatch string = "HostKeyMismatch"
)

// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Namespaced,shortName=mach
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Hostname",type=string,JSONPath=`.spec.hostname`
// +kubebuilder:printcolumn:name="Reachable",type=boolean,JSONPath=`.status.reachable`
// +kubebuilder:printcolumn:name="Configuration",type=string,JSONPath=`.status.appliedConfiguration`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Machine represents one externally hosted Unix host reachable over SSH.
type Machine struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MachineSpec   `json:"spec,omitempty"`
	Status MachineStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MachineList contains a list of Machine.
type MachineList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Machine `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Machine{}, &MachineList{})
}
