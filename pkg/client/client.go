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

// Package client provides interfaces for accessing Machine and
// NixosConfiguration resources, wrapping status-subresource updates in
// conflict-retrying patches.
package client

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
)

// MachineGetter provides read access to Machine resources.
type MachineGetter interface {
	// Get retrieves a Machine by namespace and name.
	Get(ctx context.Context, namespace, name string, opts metav1.GetOptions) (*nixosv1alpha1.Machine, error)

	// List returns every Machine in namespace.
	List(ctx context.Context, namespace string) (*nixosv1alpha1.MachineList, error)

	// PatchStatus applies mutate to the current Machine status and retries on
	// resourceVersion conflicts.
	PatchStatus(ctx context.Context, namespace, name string, mutate func(*nixosv1alpha1.Machine)) error
}

// NixosConfigurationGetter provides read access to NixosConfiguration resources.
type NixosConfigurationGetter interface {
	// Get retrieves a NixosConfiguration by namespace and name.
	Get(ctx context.Context, namespace, name string, opts metav1.GetOptions) (*nixosv1alpha1.NixosConfiguration, error)

	// ListForMachine returns every NixosConfiguration in namespace whose
	// spec.machineRef equals machineName.
	ListForMachine(ctx context.Context, namespace, machineName string) ([]nixosv1alpha1.NixosConfiguration, error)

	// PatchStatus applies mutate to the current NixosConfiguration status and
	// retries on resourceVersion conflicts.
	PatchStatus(ctx context.Context, namespace, name string, mutate func(*nixosv1alpha1.NixosConfiguration)) error
}

// OperatorClient aggregates access to both managed resource types.
type OperatorClient interface {
	Machines() MachineGetter
	NixosConfigurations() NixosConfigurationGetter
}
