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
	"path/filepath"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlcontroller "sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
	"github.com/in-cloud-io/nixos-infra-operator/internal/applier"
	"github.com/in-cloud-io/nixos-infra-operator/internal/fingerprint"
	"github.com/in-cloud-io/nixos-infra-operator/internal/gitworkspace"
	"github.com/in-cloud-io/nixos-infra-operator/internal/inject"
	"github.com/in-cloud-io/nixos-infra-operator/internal/sshtransport"
	"github.com/in-cloud-io/nixos-infra-operator/internal/validate"
	"github.com/in-cloud-io/nixos-infra-operator/internal/vault"
	pkgclient "github.com/in-cloud-io/nixos-infra-operator/pkg/client"
)

// NixosConfigurationReconciler drives a NixosConfiguration through
// Pending -> Resolving -> Building -> Applying -> Applied, applying the
// desired configuration to its target Machine over SSH.
type NixosConfigurationReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Vault              *vault.Vault
	Transport          *sshtransport.Transport
	Git                *gitworkspace.Manager
	Applier            *applier.Runner
	Events             *EventRecorder
	Backoff            *BackoffTracker
	UnreachableBackoff *BackoffTracker
	OperatorClient     pkgclient.OperatorClient

	ApplyTimeout            time.Duration
	ProbeTimeout            time.Duration
	MaxAttempts             int
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=nixos.infra,resources=nixosconfigurations,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=nixos.infra,resources=nixosconfigurations/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=nixos.infra,resources=nixosconfigurations/finalizers,verbs=update
// +kubebuilder:rbac:groups=nixos.infra,resources=machines,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=nixos.infra,resources=machines/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get

func (r *NixosConfigurationReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, reconcileErr error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	outcome := ""
	defer func() {
		if outcome == "" {
			outcome = reconcileOutcome(reconcileErr)
		}
		RecordReconcileResult(outcome, time.Since(start).Seconds())
	}()

	cfg := &nixosv1alpha1.NixosConfiguration{}
	if err := r.Get(ctx, req.NamespacedName, cfg); err != nil {
		if apierrors.IsNotFound(err) {
			r.Backoff.Success(req.String())
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !cfg.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, cfg)
	}

	if !controllerutil.ContainsFinalizer(cfg, nixosv1alpha1.FinalizerName) {
		controllerutil.AddFinalizer(cfg, nixosv1alpha1.FinalizerName)
		if err := r.Update(ctx, cfg); err != nil {
			return ctrl.Result{}, fmt.Errorf("add finalizer: %w", err)
		}
	}

	if err := validate.GitURL(cfg.Spec.GitRepo); err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("invalid gitRepo: %v", err))
	}

	machine := &nixosv1alpha1.Machine{}
	if err := r.Get(ctx, types.NamespacedName{Namespace: cfg.Namespace, Name: cfg.Spec.MachineRef}, machine); err != nil {
		if apierrors.IsNotFound(err) {
			return r.fail(ctx, cfg, req, fmt.Sprintf("machine %q not found", cfg.Spec.MachineRef))
		}
		return ctrl.Result{}, err
	}

	if machine.Status.HasConfiguration && machine.Status.AppliedConfiguration != cfg.Name {
		r.Events.Conflict(cfg, machine.Status.AppliedConfiguration)
		cfg.Status.Conditions = setCondition(cfg.Status.Conditions, metav1.Condition{
			Type: nixosv1alpha1.ConditionConflict, Status: metav1.ConditionTrue,
			Reason: "MachineAlreadyOwned", Message: fmt.Sprintf("owned by %s", machine.Status.AppliedConfiguration),
		})
		return r.transitionPhase(ctx, cfg, nixosv1alpha1.PhaseFailed, "conflict: machine already owned")
	}

	cfg.Status.TargetMachine = machine.Name
	cfg.Status.Phase = nixosv1alpha1.PhaseResolving

	probeCreds, releaseProbe, err := r.machineApplyCredentials(ctx, machine)
	if err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("resolve machine credentials: %v", err))
	}
	probeCtx, cancelProbe := context.WithTimeout(ctx, r.ProbeTimeout)
	target := sshtransport.Target{Host: machine.Spec.Hostname, Port: machine.Spec.SSHPort}
	reachable, _, learnedHostKey, probeErr := r.Transport.Probe(probeCtx, target, probeCreds)
	cancelProbe()
	releaseProbe()
	if learnedHostKey {
		r.Events.HostKeyLearned(cfg, machine.Spec.Hostname)
	}
	if !reachable {
		reason := "unreachable"
		if errors.Is(probeErr, sshtransport.ErrHostKeyMismatch) {
			r.Events.HostKeyMismatch(cfg, machine.Spec.Hostname)
			reason = "host key mismatch"
		} else if probeErr != nil {
			r.Events.ProbeFailed(cfg, machine.Spec.Hostname, probeErr.Error())
			reason = probeErr.Error()
		} else {
			r.Events.ProbeFailed(cfg, machine.Spec.Hostname, reason)
		}
		return r.failUnreachable(ctx, cfg, req, fmt.Sprintf("machine %s unreachable: %s", machine.Spec.Hostname, reason))
	}
	r.UnreachableBackoff.Success(req.String())

	gitCreds, releaseGit, err := r.resolveGitCredentials(ctx, cfg)
	if err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("resolve git credentials: %v", err))
	}
	defer releaseGit()

	cloneStart := time.Now()
	ws, commit, err := r.Git.Clone(ctx, cfg.Spec.GitRepo, cfg.Spec.GitRef, gitCreds)
	cloneDuration := time.Since(cloneStart).Seconds()
	if err != nil {
		r.Events.GitCloneFailed(cfg, err.Error())
		result := "error"
		var wsErr *gitworkspace.WorkspaceError
		if errors.As(err, &wsErr) {
			result = string(wsErr.Kind)
		}
		RecordGitClone(result, cloneDuration)
		return r.fail(ctx, cfg, req, fmt.Sprintf("clone failed: %v", err))
	}
	defer func() { _ = ws.Close() }()
	RecordGitClone("success", cloneDuration)

	root := ws.Dir
	if cfg.Spec.ConfigurationSubdir != "" {
		root = filepath.Join(ws.Dir, cfg.Spec.ConfigurationSubdir)
	}

	cfg.Status.Phase = nixosv1alpha1.PhaseBuilding

	sources, releaseSecrets, err := r.buildInjectSources(ctx, cfg, machine)
	if err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("resolve additional files: %v", err))
	}
	defer releaseSecrets()

	injected, err := inject.Inject(root, sources)
	if err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("inject additional files: %v", err))
	}

	desired := fingerprint.DesiredState{
		CommitHash:          commit,
		Flake:               cfg.Spec.Flake,
		ConfigurationSubdir: cfg.Spec.ConfigurationSubdir,
		FullInstall:         cfg.Spec.FullInstall,
		InjectedFiles:       injected,
	}
	fp := fingerprint.Compute(desired)

	if cfg.Status.Phase != nixosv1alpha1.PhaseFailed && machine.Status.AppliedFingerprint == fp.Full && machine.Status.AppliedConfiguration == cfg.Name {
		logger.V(1).Info("desired state unchanged, skipping apply", "fingerprint", fp.Short)
		r.Backoff.Success(req.String())
		err := r.updateStatus(ctx, cfg, func(c *nixosv1alpha1.NixosConfiguration) {
			c.Status.Phase = nixosv1alpha1.PhaseApplied
			c.Status.ObservedGeneration = c.Generation
		})
		if err == nil {
			outcome = "noop"
		}
		return ctrl.Result{RequeueAfter: 2 * time.Minute}, err
	}

	identityPath, releaseApply, err := r.stageApplyIdentity(ctx, machine)
	if err != nil {
		return r.fail(ctx, cfg, req, fmt.Sprintf("resolve machine credentials: %v", err))
	}
	defer releaseApply()

	mode := applier.ModeSwitch
	if cfg.Spec.FullInstall {
		mode = applier.ModeBootstrap
	}

	cfg.Status.Phase = nixosv1alpha1.PhaseApplying
	r.Events.ApplyStarted(cfg, string(mode))

	applyCtx, cancel := context.WithTimeout(ctx, r.ApplyTimeout)
	defer cancel()

	applyStart := time.Now()
	applyRes, applyErr := r.Applier.Run(applyCtx, applier.Request{
		Mode:         mode,
		TargetHost:   machine.Spec.Hostname,
		SSHUser:      machine.Spec.SSHUser,
		Flake:        cfg.Spec.Flake,
		WorkDir:      root,
		Timeout:      r.ApplyTimeout,
		IdentityFile: identityPath,
	}, func(line string) { logger.V(1).Info("apply output", "line", line) })
	RecordApplyResult(string(mode), applyOutcome(applyErr), time.Since(applyStart).Seconds())

	if applyErr != nil {
		r.Events.ApplyFailed(cfg, applyErr.Error())
		return r.fail(ctx, cfg, req, fmt.Sprintf("apply failed: %v (tail: %s)", applyErr, applyRes.Tail))
	}

	r.Events.ApplySucceeded(cfg, commit)
	r.Backoff.Success(req.String())

	now := metav1.Now()
	if err := r.OperatorClient.Machines().PatchStatus(ctx, machine.Namespace, machine.Name, func(m *nixosv1alpha1.Machine) {
		m.Status.HasConfiguration = true
		m.Status.AppliedConfiguration = cfg.Name
		m.Status.AppliedCommit = commit
		m.Status.AppliedFingerprint = fp.Full
		m.Status.LastAppliedAt = &now
	}); err != nil {
		return ctrl.Result{}, fmt.Errorf("update machine status after apply: %w", err)
	}

	return ctrl.Result{RequeueAfter: 2 * time.Minute}, r.updateStatus(ctx, cfg, func(c *nixosv1alpha1.NixosConfiguration) {
		c.Status.Phase = nixosv1alpha1.PhaseApplied
		c.Status.ObservedGeneration = c.Generation
		c.Status.AppliedCommit = commit
		c.Status.AppliedFingerprint = fp.Full
		c.Status.LastTransitionAt = &now
		c.Status.LastError = ""
		c.Status.Conditions = setCondition(c.Status.Conditions, metav1.Condition{
			Type: nixosv1alpha1.ConditionApplied, Status: metav1.ConditionTrue, Reason: "ApplySucceeded", Message: "applied commit " + commit,
		})
	})
}

func applyOutcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func reconcileOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// reconcileDelete runs the configured tear-down flake when this configuration
// currently owns the target Machine (unless absent or the Machine is
// unreachable and skipOnUnreachable is set), releases ownership of the target
// Machine, and removes the finalizer.
func (r *NixosConfigurationReconciler) reconcileDelete(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(cfg, nixosv1alpha1.FinalizerName) {
		return ctrl.Result{}, nil
	}

	machine := &nixosv1alpha1.Machine{}
	err := r.Get(ctx, types.NamespacedName{Namespace: cfg.Namespace, Name: cfg.Spec.MachineRef}, machine)
	machineExists := err == nil
	if err != nil && !apierrors.IsNotFound(err) {
		return ctrl.Result{}, err
	}

	if machineExists && cfg.Spec.OnRemoveFlake != nil && machine.Status.AppliedConfiguration == cfg.Name {
		if done, res, err := r.runTearDown(ctx, cfg, machine); !done {
			return res, err
		}
	}

	if machineExists && machine.Status.AppliedConfiguration == cfg.Name {
		if err := r.OperatorClient.Machines().PatchStatus(ctx, machine.Namespace, machine.Name, func(m *nixosv1alpha1.Machine) {
			m.Status.HasConfiguration = false
			m.Status.AppliedConfiguration = ""
			m.Status.AppliedCommit = ""
			m.Status.AppliedFingerprint = ""
		}); err != nil {
			return ctrl.Result{}, fmt.Errorf("release machine: %w", err)
		}
	}

	controllerutil.RemoveFinalizer(cfg, nixosv1alpha1.FinalizerName)
	if err := r.Update(ctx, cfg); err != nil {
		return ctrl.Result{}, fmt.Errorf("remove finalizer: %w", err)
	}
	return ctrl.Result{}, nil
}

// runTearDown applies the onRemoveFlake configuration. The bool return
// reports whether tear-down is considered settled (succeeded or skipped);
// false means the caller should return res/err to requeue and retry.
func (r *NixosConfigurationReconciler) runTearDown(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, machine *nixosv1alpha1.Machine) (bool, ctrl.Result, error) {
	tearDown := cfg.Spec.OnRemoveFlake

	probeCreds, release, err := r.machineApplyCredentials(ctx, machine)
	if err != nil {
		if tearDown.SkipOnUnreachable {
			r.Events.TearDownSkipped(cfg, "no usable SSH credentials")
			return true, ctrl.Result{}, nil
		}
		return false, ctrl.Result{RequeueAfter: r.Backoff.Failure("teardown/" + cfg.Name)}, nil
	}
	defer release()

	probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()
	target := sshtransport.Target{Host: machine.Spec.Hostname, Port: machine.Spec.SSHPort}
	reachable, _, learnedHostKey, _ := r.Transport.Probe(probeCtx, target, probeCreds)
	if learnedHostKey {
		r.Events.HostKeyLearned(cfg, machine.Spec.Hostname)
	}
	if !reachable {
		if tearDown.SkipOnUnreachable {
			r.Events.TearDownSkipped(cfg, "machine unreachable")
			return true, ctrl.Result{}, nil
		}
		return false, ctrl.Result{RequeueAfter: r.Backoff.Failure("teardown/" + cfg.Name)}, nil
	}

	gitCreds, releaseGit, err := r.resolveGitCredentials(ctx, cfg)
	if err != nil {
		return false, ctrl.Result{RequeueAfter: r.Backoff.Failure("teardown/" + cfg.Name)}, nil
	}
	defer releaseGit()

	ws, _, err := r.Git.Clone(ctx, cfg.Spec.GitRepo, cfg.Spec.GitRef, gitCreds)
	if err != nil {
		return false, ctrl.Result{RequeueAfter: r.Backoff.Failure("teardown/" + cfg.Name)}, nil
	}
	defer func() { _ = ws.Close() }()

	root := ws.Dir
	if cfg.Spec.ConfigurationSubdir != "" {
		root = filepath.Join(ws.Dir, cfg.Spec.ConfigurationSubdir)
	}

	r.Events.TearDownStarted(cfg)
	applyCtx, cancel2 := context.WithTimeout(ctx, r.ApplyTimeout)
	defer cancel2()
	_, err = r.Applier.Run(applyCtx, applier.Request{
		Mode:       applier.ModeSwitch,
		TargetHost: machine.Spec.Hostname,
		SSHUser:    machine.Spec.SSHUser,
		Flake:      tearDown.Flake,
		WorkDir:    root,
		Timeout:    r.ApplyTimeout,
	}, func(line string) { log.FromContext(ctx).V(1).Info("tear-down output", "line", line) })
	if err != nil {
		return false, ctrl.Result{RequeueAfter: r.Backoff.Failure("teardown/" + cfg.Name)}, nil
	}

	r.Events.TearDownSucceeded(cfg)
	r.Backoff.Success("teardown/" + cfg.Name)
	return true, ctrl.Result{}, nil
}

func (r *NixosConfigurationReconciler) buildInjectSources(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, machine *nixosv1alpha1.Machine) ([]inject.Source, func(), error) {
	var releases []func()
	release := func() {
		for _, fn := range releases {
			fn()
		}
	}

	sources := make([]inject.Source, 0, len(cfg.Spec.AdditionalFiles))
	for _, f := range cfg.Spec.AdditionalFiles {
		src := inject.Source{Path: f.Path}
		switch {
		case f.Inline != nil:
			src.Inline = f.Inline
		case f.SecretRef != nil:
			ref := f.SecretRef
			key := ref.Key
			if key == "" {
				key = "content"
			}
			h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: cfg.Namespace, Name: ref.Name, Key: key}, vault.KindFileContent)
			if err != nil {
				release()
				return nil, func() {}, err
			}
			releases = append(releases, h.Release)
			src.Secret = func() ([]byte, error) { return h.Bytes(), nil }
		case f.HardwareFacts:
			facts := machine.Status.Facts
			src.Facts = func() []byte { return inject.SortedFactLines(facts) }
		default:
			release()
			return nil, func() {}, fmt.Errorf("additional file %q has no content source", f.Path)
		}
		sources = append(sources, src)
	}

	return sources, release, nil
}

func (r *NixosConfigurationReconciler) resolveGitCredentials(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration) (gitworkspace.Credentials, func(), error) {
	ref := cfg.Spec.GitCredentialsSecretRef
	if ref == nil {
		return gitworkspace.Credentials{}, func() {}, nil
	}

	if ref.Key == "ssh-privatekey" {
		h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: cfg.Namespace, Name: ref.Name, Key: ref.Key}, vault.KindGitSSHKey)
		if err != nil {
			return gitworkspace.Credentials{}, func() {}, err
		}
		return gitworkspace.Credentials{SSHKey: h.Bytes()}, h.Release, nil
	}

	key := ref.Key
	if key == "" {
		key = "token"
	}
	h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: cfg.Namespace, Name: ref.Name, Key: key}, vault.KindGitToken)
	if err != nil {
		return gitworkspace.Credentials{}, func() {}, err
	}
	return gitworkspace.Credentials{Token: string(h.Bytes())}, h.Release, nil
}

// machineApplyCredentials resolves the Machine's SSH key for probing reachability
// ahead of an apply or a tear-down apply. The probe-only password secret is
// never used here.
func (r *NixosConfigurationReconciler) machineApplyCredentials(ctx context.Context, machine *nixosv1alpha1.Machine) (sshtransport.Credentials, func(), error) {
	ref := machine.Spec.SSHKeySecretRef
	if ref == nil {
		return sshtransport.Credentials{}, func() {}, fmt.Errorf("machine %s/%s has no sshKeySecretRef configured for applying", machine.Namespace, machine.Name)
	}
	key := ref.Key
	if key == "" {
		key = "ssh-privatekey"
	}
	h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: machine.Namespace, Name: ref.Name, Key: key}, vault.KindSSHKey)
	if err != nil {
		return sshtransport.Credentials{}, func() {}, err
	}
	user := machine.Spec.SSHUser
	if user == "" {
		user = "root"
	}
	return sshtransport.Credentials{User: user, PrivateKey: h.Bytes()}, h.Release, nil
}

// stageApplyIdentity resolves the Machine's SSH key and writes it to a
// scratch file so the bootstrap/switch subprocess's own SSH client can
// authenticate as the target Machine expects.
func (r *NixosConfigurationReconciler) stageApplyIdentity(ctx context.Context, machine *nixosv1alpha1.Machine) (string, func(), error) {
	ref := machine.Spec.SSHKeySecretRef
	if ref == nil {
		return "", func() {}, fmt.Errorf("machine %s/%s has no sshKeySecretRef configured for applying", machine.Namespace, machine.Name)
	}
	key := ref.Key
	if key == "" {
		key = "ssh-privatekey"
	}
	h, err := r.Vault.Resolve(ctx, vault.Ref{Namespace: machine.Namespace, Name: ref.Name, Key: key}, vault.KindSSHKey)
	if err != nil {
		return "", func() {}, err
	}

	path, cleanupFile, err := vault.ScratchFile(r.Git.BasePath, h)
	if err != nil {
		h.Release()
		return "", func() {}, err
	}

	return path, func() { cleanupFile(); h.Release() }, nil
}

// fail records a retryable failure. Once the key has failed MaxAttempts times
// in a row for the current generation, the configuration is parked in a
// terminal Failed phase instead of being requeued again.
func (r *NixosConfigurationReconciler) fail(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, req ctrl.Request, reason string) (ctrl.Result, error) {
	key := req.String()
	if cfg.Status.ObservedGeneration != cfg.Generation {
		r.Backoff.Success(key)
	}
	requeue := r.Backoff.Failure(key)
	terminal := r.MaxAttempts > 0 && r.Backoff.Count(key) >= r.MaxAttempts

	condReason := "Failed"
	if terminal {
		condReason = "FailedTerminal"
	}
	err := r.updateStatus(ctx, cfg, func(c *nixosv1alpha1.NixosConfiguration) {
		c.Status.Phase = nixosv1alpha1.PhaseFailed
		c.Status.LastError = reason
		c.Status.ObservedGeneration = c.Generation
		now := metav1.Now()
		c.Status.LastTransitionAt = &now
		c.Status.Conditions = setCondition(c.Status.Conditions, metav1.Condition{
			Type: nixosv1alpha1.ConditionApplied, Status: metav1.ConditionFalse, Reason: condReason, Message: reason,
		})
	})
	if terminal {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: requeue}, err
}

// failUnreachable records a reachability failure through the longer-capped
// Unreachable backoff tracker instead of the transient-error tracker.
func (r *NixosConfigurationReconciler) failUnreachable(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, req ctrl.Request, reason string) (ctrl.Result, error) {
	requeue := r.UnreachableBackoff.Failure(req.String())
	err := r.updateStatus(ctx, cfg, func(c *nixosv1alpha1.NixosConfiguration) {
		c.Status.Phase = nixosv1alpha1.PhaseFailed
		c.Status.LastError = reason
		now := metav1.Now()
		c.Status.LastTransitionAt = &now
		c.Status.Conditions = setCondition(c.Status.Conditions, metav1.Condition{
			Type: nixosv1alpha1.ConditionApplied, Status: metav1.ConditionFalse, Reason: "Unreachable", Message: reason,
		})
	})
	return ctrl.Result{RequeueAfter: requeue}, err
}

func (r *NixosConfigurationReconciler) transitionPhase(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, phase nixosv1alpha1.NixosConfigurationPhase, reason string) (ctrl.Result, error) {
	requeue := r.Backoff.Failure(cfg.Namespace + "/" + cfg.Name)
	err := r.updateStatus(ctx, cfg, func(c *nixosv1alpha1.NixosConfiguration) {
		c.Status.Phase = phase
		c.Status.LastError = reason
		c.Status.Conditions = cfg.Status.Conditions
		now := metav1.Now()
		c.Status.LastTransitionAt = &now
	})
	return ctrl.Result{RequeueAfter: requeue}, err
}

func (r *NixosConfigurationReconciler) updateStatus(ctx context.Context, cfg *nixosv1alpha1.NixosConfiguration, mutate func(*nixosv1alpha1.NixosConfiguration)) error {
	return r.OperatorClient.NixosConfigurations().PatchStatus(ctx, cfg.Namespace, cfg.Name, mutate)
}

// SetupWithManager sets up the controller with the Manager.
func (r *NixosConfigurationReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&nixosv1alpha1.NixosConfiguration{}).
		WithOptions(ctrlcontroller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
