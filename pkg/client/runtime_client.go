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

package client

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
)

// Compile-time interface compliance checks.
var (
	_ OperatorClient           = (*RuntimeClient)(nil)
	_ MachineGetter            = (*runtimeMachineGetter)(nil)
	_ NixosConfigurationGetter = (*runtimeNixosConfigurationGetter)(nil)
)

// RuntimeClient implements OperatorClient using controller-runtime's client.
type RuntimeClient struct {
	client client.Client
}

// NewRuntimeClient creates a new RuntimeClient wrapping the provided
// controller-runtime client.
func NewRuntimeClient(c client.Client) *RuntimeClient {
	return &RuntimeClient{client: c}
}

// Machines returns a MachineGetter.
func (r *RuntimeClient) Machines() MachineGetter {
	return &runtimeMachineGetter{client: r.client}
}

// NixosConfigurations returns a NixosConfigurationGetter.
func (r *RuntimeClient) NixosConfigurations() NixosConfigurationGetter {
	return &runtimeNixosConfigurationGetter{client: r.client}
}

type runtimeMachineGetter struct {
	client client.Client
}

func (g *runtimeMachineGetter) Get(ctx context.Context, namespace, name string, _ metav1.GetOptions) (*nixosv1alpha1.Machine, error) {
	m := &nixosv1alpha1.Machine{}
	if err := g.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (g *runtimeMachineGetter) List(ctx context.Context, namespace string) (*nixosv1alpha1.MachineList, error) {
	list := &nixosv1alpha1.MachineList{}
	if err := g.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	return list, nil
}

func (g *runtimeMachineGetter) PatchStatus(ctx context.Context, namespace, name string, mutate func(*nixosv1alpha1.Machine)) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		m := &nixosv1alpha1.Machine{}
		if err := g.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, m); err != nil {
			return err
		}
		mutate(m)
		return g.client.Status().Update(ctx, m)
	})
}

type runtimeNixosConfigurationGetter struct {
	client client.Client
}

func (g *runtimeNixosConfigurationGetter) Get(ctx context.Context, namespace, name string, _ metav1.GetOptions) (*nixosv1alpha1.NixosConfiguration, error) {
	cfg := &nixosv1alpha1.NixosConfiguration{}
	if err := g.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *runtimeNixosConfigurationGetter) ListForMachine(ctx context.Context, namespace, machineName string) ([]nixosv1alpha1.NixosConfiguration, error) {
	list := &nixosv1alpha1.NixosConfigurationList{}
	if err := g.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	matches := make([]nixosv1alpha1.NixosConfiguration, 0, len(list.Items))
	for _, cfg := range list.Items {
		if cfg.Spec.MachineRef == machineName {
			matches = append(matches, cfg)
		}
	}
	return matches, nil
}

func (g *runtimeNixosConfigurationGetter) PatchStatus(ctx context.Context, namespace, name string, mutate func(*nixosv1alpha1.NixosConfiguration)) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		cfg := &nixosv1alpha1.NixosConfiguration{}
		if err := g.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, cfg); err != nil {
			return err
		}
		mutate(cfg)
		return g.client.Status().Update(ctx, cfg)
	})
}
