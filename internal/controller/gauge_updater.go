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
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
)

// GaugeUpdater periodically lists every Machine and refreshes the
// managed_machines/machines_reachable gauges from their reported status. It
// implements manager.Runnable so it starts and stops with the manager, and
// manager.LeaderElectionRunnable so only the active leader lists and sets
// the gauges.
type GaugeUpdater struct {
	Client   client.Client
	Interval time.Duration
}

// Start runs the update loop until ctx is cancelled.
func (g *GaugeUpdater) Start(ctx context.Context) error {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	g.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// NeedLeaderElection reports that the gauge updater must only run on the
// elected leader, matching the rest of the operator's write path.
func (g *GaugeUpdater) NeedLeaderElection() bool {
	return true
}

func (g *GaugeUpdater) tick(ctx context.Context) {
	list := &nixosv1alpha1.MachineList{}
	if err := g.Client.List(ctx, list); err != nil {
		log.FromContext(ctx).Error(err, "unable to list machines for gauges")
		return
	}

	reachable := 0
	for _, m := range list.Items {
		if m.Status.Reachable {
			reachable++
		}
	}
	UpdateMachineGauges(len(list.Items), reachable)
}
