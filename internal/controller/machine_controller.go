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
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlcontroller "sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
	"github.com/in-cloud-io/nixos-infra-operator/internal/facts"
	"github.com/in-cloud-io/nixos-infra-operator/internal/sshtransport"
	"github.com/in-cloud-io/nixos-infra-operator/internal/validate"
	"github.com/in-cloud-io/nixos-infra-operator/internal/vault"
	pkgclient "github.com/in-cloud-io/nixos-infra-operator/pkg/client"
)

// MachineReconciler periodically probes Machine reachability and, when
// reachable, refreshes the hardware fact map exposed in status.facts.
type MachineReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Vault              *vault.Vault
	Transport          *sshtransport.Transport
	Events             *EventRecorder
	Backoff            *BackoffTracker
	UnreachableBackoff *BackoffTracker
	OperatorClient     pkgclient.OperatorClient

	DiscoveryInterval       time.Duration
	ProbeTimeout            time.Duration
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=nixos.infra,resources=machines,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=nixos.infra,resources=machines/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get

// Reconcile probes a Machine's reachability and, when reachable, refreshes
// its hardware facts.
func (r *MachineReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	machine := &nixosv1alpha1.Machine{}
	if err := r.Get(ctx, req.NamespacedName, machine); err != nil {
		if apierrors.IsNotFound(err) {
			r.Backoff.Success(req.String())
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if err := validate.Hostname(machine.Spec.Hostname); err != nil {
		logger.Error(err, "machine has invalid hostname, skipping probe")
		return ctrl.Result{}, nil
	}

	creds, release, err := r.probeCredentials(ctx, machine)
	if err != nil {
		logger.Error(err, "unable to resolve probe credentials")
		return ctrl.Result{RequeueAfter: r.Backoff.Failure(req.String())}, nil
	}
	defer release()

	probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()

	target := sshtransport.Target{Host: machine.Spec.Hostname, Port: machine.Spec.SSHPort}
	start := time.Now()
	reachable, _, learnedHostKey, probeErr := r.Transport.Probe(probeCtx, target, creds)
	RecordSSHProbe(time.Since(start).Seconds())
	if learnedHostKey {
		r.Events.HostKeyLearned(machine, machine.Spec.Hostname)
	}

	now := metav1.Now()
	var factsMap map[string]string
	hostKeyMismatch := false
	if reachable {
		r.Events.ProbeSucceeded(machine, machine.Spec.Hostname)
		r.Backoff.Success(req.String())
		factsMap = r.gatherFacts(ctx, target, creds, logger)
	} else {
		reason := "unknown"
		var mismatch *sshtransport.TransportError
		if errors.Is(probeErr, sshtransport.ErrHostKeyMismatch) {
			r.Events.HostKeyMismatch(machine, machine.Spec.Hostname)
			reason = "host key mismatch"
			hostKeyMismatch = true
		} else if errors.As(probeErr, &mismatch) {
			reason = string(mismatch.Kind)
			RecordSSHFailure(string(mismatch.Kind))
		} else if probeErr != nil {
			reason = probeErr.Error()
		}
		r.Events.ProbeFailed(machine, machine.Spec.Hostname, reason)
	}

	condition := metav1.Condition{
		Type:    nixosv1alpha1.ConditionReachable,
		Status:  boolToConditionStatus(reachable),
		Reason:  "ProbeResult",
		Message: fmt.Sprintf("last probe at %s", now.Format(time.RFC3339)),
	}
	if err := r.OperatorClient.Machines().PatchStatus(ctx, machine.Namespace, machine.Name, func(m *nixosv1alpha1.Machine) {
		m.Status.Reachable = reachable
		if reachable {
			m.Status.LastReachableAt = &now
			if factsMap != nil {
				m.Status.Facts = factsMap
			}
		}
		m.Status.Conditions = setCondition(m.Status.Conditions, condition)
		if reachable || hostKeyMismatch {
			m.Status.Conditions = setCondition(m.Status.Conditions, metav1.Condition{
				Type:    nixosv1alpha1.ConditionHostKeyMismatch,
				Status:  boolToConditionStatus(hostKeyMismatch),
				Reason:  "HostKeyCheck",
				Message: fmt.Sprintf("host key check at %s", now.Format(time.RFC3339)),
			})
		}
	}); err != nil {
		return ctrl.Result{}, fmt.Errorf("update machine status: %w", err)
	}

	if !reachable {
		return ctrl.Result{RequeueAfter: r.UnreachableBackoff.Failure(req.String())}, nil
	}
	r.UnreachableBackoff.Success(req.String())
	return ctrl.Result{RequeueAfter: r.DiscoveryInterval}, nil
}

// gatherFacts stages and runs the embedded hardware probe and parses its
// output. Failures are logged and swallowed; a missed fact refresh does not
// fail the reconcile.
func (r *MachineReconciler) gatherFacts(ctx context.Context, target sshtransport.Target, creds sshtransport.Credentials, logger logr.Logger) map[string]string {
	if err := r.Transport.WriteFile(ctx, target, creds, facts.RemotePath, facts.Probe, 0700); err != nil {
		logger.Error(err, "failed to stage hardware probe script")
		return nil
	}

	var output string
	exitCode, err := r.Transport.Run(ctx, target, creds, facts.RemotePath, func(line string) {
		output += line + "\n"
	})
	if err != nil || exitCode != 0 {
		logger.Error(err, "hardware probe script failed")
		return nil
	}

	return facts.Parse(output)
}

// probeCredentials resolves the Machine's SSH key if present, falling back to
// its probe-only password. The password secret is never used for applying
// configuration.
func (r *MachineReconciler) probeCredentials(ctx context.Context, machine *nixosv1alpha1.Machine) (sshtransport.Credentials, func(), error) {
	user := machine.Spec.SSHUser
	if user == "" {
		user = "root"
	}

	if ref := machine.Spec.SSHKeySecretRef; ref != nil {
		key := ref.Key
		if key == "" {
			key = "ssh-privatekey"
		}
		h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: machine.Namespace, Name: ref.Name, Key: key}, vault.KindSSHKey)
		if err != nil {
			return sshtransport.Credentials{}, func() {}, err
		}
		return sshtransport.Credentials{User: user, PrivateKey: h.Bytes()}, h.Release, nil
	}

	if ref := machine.Spec.SSHPasswordSecretRef; ref != nil {
		key := ref.Key
		if key == "" {
			key = "password"
		}
		h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: machine.Namespace, Name: ref.Name, Key: key}, vault.KindSSHPassword)
		if err != nil {
			return sshtransport.Credentials{}, func() {}, err
		}
		return sshtransport.Credentials{User: user, Password: string(h.Bytes())}, h.Release, nil
	}

	return sshtransport.Credentials{}, func() {}, fmt.Errorf("machine %s/%s has no SSH credentials configured", machine.Namespace, machine.Name)
}

func boolToConditionStatus(b bool) metav1.ConditionStatus {
	if b {
		return metav1.ConditionTrue
	}
	return metav1.ConditionFalse
}

// SetupWithManager sets up the controller with the Manager.
func (r *MachineReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&nixosv1alpha1.Machine{}).
		WithOptions(ctrlcontroller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
