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

// Package main is the entry point for the nixos-infra-operator manager,
// reconciling Machine and NixosConfiguration resources.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
	"github.com/in-cloud-io/nixos-infra-operator/internal/applier"
	"github.com/in-cloud-io/nixos-infra-operator/internal/config"
	"github.com/in-cloud-io/nixos-infra-operator/internal/controller"
	"github.com/in-cloud-io/nixos-infra-operator/internal/gitworkspace"
	"github.com/in-cloud-io/nixos-infra-operator/internal/sshtransport"
	"github.com/in-cloud-io/nixos-infra-operator/internal/vault"
	pkgclient "github.com/in-cloud-io/nixos-infra-operator/pkg/client"
	// +kubebuilder:scaffold:imports
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metrics endpoint binds to. Overrides METRICS_BIND_ADDRESS.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", "", "The address the probe endpoint binds to. Overrides HEALTH_BIND_ADDRESS.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg := config.Load()
	if metricsAddr != "" {
		cfg.MetricsBindAddress = metricsAddr
	}
	if probeAddr != "" {
		cfg.HealthBindAddress = probeAddr
	}
	if enableLeaderElection {
		cfg.LeaderElection = true
	}
	setupLog.Info("loaded configuration", "config", cfg.Summary())

	scheme := clientgoscheme.Scheme
	utilruntime.Must(nixosv1alpha1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsBindAddress},
		HealthProbeBindAddress: cfg.HealthBindAddress,
		LeaderElection:         cfg.LeaderElection,
		LeaderElectionID:       "nixos-infra-operator.nixos.infra",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	knownHosts, err := sshtransport.NewKnownHosts(cfg.KnownHostsPath)
	if err != nil {
		setupLog.Error(err, "unable to open known_hosts store")
		os.Exit(1)
	}

	v := vault.New(mgr.GetClient())
	transport := sshtransport.New(knownHosts)
	gitManager := gitworkspace.NewManager(cfg.WorkspaceBasePath)
	applyRunner := applier.NewRunner(cfg.LogTailBytes)
	events := controller.CreateEventRecorder(mgr)
	operatorClient := pkgclient.NewRuntimeClient(mgr.GetClient())
	machineBackoff := controller.NewBackoffTracker(cfg.RetryInitialDelay, cfg.RetryMaxDelay, cfg.RetryExponentialBase)
	configBackoff := controller.NewBackoffTracker(cfg.RetryInitialDelay, cfg.RetryMaxDelay, cfg.RetryExponentialBase)
	machineUnreachableBackoff := controller.NewBackoffTracker(cfg.RetryInitialDelay, cfg.RetryUnreachableMaxDelay, cfg.RetryExponentialBase)
	configUnreachableBackoff := controller.NewBackoffTracker(cfg.RetryInitialDelay, cfg.RetryUnreachableMaxDelay, cfg.RetryExponentialBase)

	if err := (&controller.MachineReconciler{
		Client:                  mgr.GetClient(),
		Scheme:                  mgr.GetScheme(),
		Vault:                   v,
		Transport:               transport,
		Events:                  events,
		Backoff:                 machineBackoff,
		UnreachableBackoff:      machineUnreachableBackoff,
		OperatorClient:          operatorClient,
		DiscoveryInterval:       cfg.MachineDiscoveryInterval,
		ProbeTimeout:            cfg.FactsScanTimeout,
		MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Machine")
		os.Exit(1)
	}

	if err := (&controller.NixosConfigurationReconciler{
		Client:                  mgr.GetClient(),
		Scheme:                  mgr.GetScheme(),
		Vault:                   v,
		Transport:               transport,
		Git:                     gitManager,
		Applier:                 applyRunner,
		Events:                  events,
		Backoff:                 configBackoff,
		UnreachableBackoff:      configUnreachableBackoff,
		OperatorClient:          operatorClient,
		ApplyTimeout:            cfg.ApplyTimeout,
		ProbeTimeout:            cfg.FactsScanTimeout,
		MaxAttempts:             cfg.RetryMaxAttempts,
		MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "NixosConfiguration")
		os.Exit(1)
	}

	if err := mgr.Add(&controller.GaugeUpdater{Client: mgr.GetClient(), Interval: cfg.MachineDiscoveryInterval}); err != nil {
		setupLog.Error(err, "unable to add gauge updater to manager")
		os.Exit(1)
	}
	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}
	if err := mgr.AddHealthzCheck("startup", func(_ *http.Request) error {
		if !mgr.GetCache().WaitForCacheSync(context.Background()) {
			return fmt.Errorf("informer caches not yet synced")
		}
		return nil
	}); err != nil {
		setupLog.Error(err, "unable to set up startup check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
