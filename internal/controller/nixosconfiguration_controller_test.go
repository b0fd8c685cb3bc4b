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
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	"k8s.io/apimachinery/pkg/types"
	clientgotesting "k8s.io/client-go/testing"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	nixosv1alpha1 "github.com/in-cloud-io/nixos-infra-operator/api/v1alpha1"
	"github.com/in-cloud-io/nixos-infra-operator/internal/gitworkspace"
	"github.com/in-cloud-io/nixos-infra-operator/internal/vault"
	pkgclient "github.com/in-cloud-io/nixos-infra-operator/pkg/client"
)

func newConfigReconciler(t *testing.T, objs ...client.Object) (*NixosConfigurationReconciler, client.Client) {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := nixosv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme corev1: %v", err)
	}
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&nixosv1alpha1.Machine{}, &nixosv1alpha1.NixosConfiguration{}).
		Build()

	r := &NixosConfigurationReconciler{
		Client:                  c,
		Scheme:                  scheme,
		Vault:                   vault.New(c),
		Git:                     gitworkspace.NewManager(t.TempDir()),
		Events:                  NewEventRecorder(nil),
		Backoff:                 NewBackoffTracker(1, 10, 2.0),
		UnreachableBackoff:      NewBackoffTracker(1, 300, 2.0),
		OperatorClient:          pkgclient.NewRuntimeClient(c),
		ApplyTimeout:            0,
		ProbeTimeout:            0,
		MaxAttempts:             3,
		MaxConcurrentReconciles: 1,
	}
	return r, c
}

func TestNixosConfigurationReconciler_RefusesSecondClaim(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
		Status: nixosv1alpha1.MachineStatus{
			HasConfiguration:     true,
			AppliedConfiguration: "cfg-existing",
		},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-new", Finalizers: []string{nixosv1alpha1.FinalizerName}},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			MachineRef: "host-1",
			GitRepo:    "https://example.com/repo.git",
			Flake:      "#host-1",
		},
	}
	r, c := newConfigReconciler(t, machine, cfg)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-new"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got := &nixosv1alpha1.NixosConfiguration{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-new"}, got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status.Phase != nixosv1alpha1.PhaseFailed {
		t.Errorf("Phase = %q, want Failed", got.Status.Phase)
	}

	unchanged := &nixosv1alpha1.Machine{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "host-1"}, unchanged); err != nil {
		t.Fatalf("Get() machine error = %v", err)
	}
	if unchanged.Status.AppliedConfiguration != "cfg-existing" {
		t.Errorf("AppliedConfiguration = %q, want unchanged cfg-existing", unchanged.Status.AppliedConfiguration)
	}
}

func TestNixosConfigurationReconciler_RejectsInvalidGitURL(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1", Finalizers: []string{nixosv1alpha1.FinalizerName}},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			MachineRef: "host-1",
			GitRepo:    "https://example.com/repo.git; rm -rf /",
			Flake:      "#host-1",
		},
	}
	r, c := newConfigReconciler(t, machine, cfg)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-1"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got := &nixosv1alpha1.NixosConfiguration{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-1"}, got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status.Phase != nixosv1alpha1.PhaseFailed {
		t.Errorf("Phase = %q, want Failed", got.Status.Phase)
	}

	untouched := &nixosv1alpha1.Machine{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "host-1"}, untouched); err != nil {
		t.Fatalf("Get() machine error = %v", err)
	}
	if untouched.Status.HasConfiguration {
		t.Error("machine should not be claimed when gitRepo validation fails before the machine is even fetched")
	}
}

func TestNixosConfigurationReconciler_DeleteWithoutTearDownReleasesMachine(t *testing.T) {
	now := metav1.Now()
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
		Status: nixosv1alpha1.MachineStatus{
			HasConfiguration:     true,
			AppliedConfiguration: "cfg-1",
			AppliedCommit:        "deadbeef",
		},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:         "default",
			Name:              "cfg-1",
			Finalizers:        []string{nixosv1alpha1.FinalizerName},
			DeletionTimestamp: &now,
		},
		Spec: nixosv1alpha1.NixosConfigurationSpec{MachineRef: "host-1", GitRepo: "https://example.com/repo.git", Flake: "#host-1"},
	}
	r, c := newConfigReconciler(t, machine, cfg)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-1"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	released := &nixosv1alpha1.Machine{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "host-1"}, released); err != nil {
		t.Fatalf("Get() machine error = %v", err)
	}
	if released.Status.HasConfiguration || released.Status.AppliedConfiguration != "" {
		t.Errorf("expected machine to be released, got HasConfiguration=%v AppliedConfiguration=%q",
			released.Status.HasConfiguration, released.Status.AppliedConfiguration)
	}

	gone := &nixosv1alpha1.NixosConfiguration{}
	err = c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-1"}, gone)
	if err == nil && len(gone.Finalizers) != 0 {
		t.Errorf("expected finalizer to be removed, got %v", gone.Finalizers)
	}
}

func TestNixosConfigurationReconciler_DeleteWithoutFinalizerIsNoop(t *testing.T) {
	now := metav1.Now()
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:         "default",
			Name:              "cfg-1",
			DeletionTimestamp: &now,
		},
		Spec: nixosv1alpha1.NixosConfigurationSpec{MachineRef: "host-1", GitRepo: "https://example.com/repo.git", Flake: "#host-1"},
	}

	scheme := runtime.NewScheme()
	if err := nixosv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme corev1: %v", err)
	}
	// The fake client's builder refuses to seed an object that has a
	// DeletionTimestamp but no finalizers. Pre-populate a raw tracker
	// (which has no such restriction) to construct this fixture.
	rawTracker := clientgotesting.NewObjectTracker(scheme, serializer.NewCodecFactory(scheme).UniversalDecoder())
	if err := rawTracker.Add(cfg); err != nil {
		t.Fatalf("rawTracker.Add: %v", err)
	}
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjectTracker(rawTracker).
		WithStatusSubresource(&nixosv1alpha1.Machine{}, &nixosv1alpha1.NixosConfiguration{}).
		Build()

	r := &NixosConfigurationReconciler{
		Client:                  c,
		Scheme:                  scheme,
		Vault:                   vault.New(c),
		Git:                     gitworkspace.NewManager(t.TempDir()),
		Events:                  NewEventRecorder(nil),
		Backoff:                 NewBackoffTracker(1, 10, 2.0),
		UnreachableBackoff:      NewBackoffTracker(1, 300, 2.0),
		OperatorClient:          pkgclient.NewRuntimeClient(c),
		ApplyTimeout:            0,
		ProbeTimeout:            0,
		MaxAttempts:             3,
		MaxConcurrentReconciles: 1,
	}

	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-1"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.RequeueAfter != 0 {
		t.Errorf("RequeueAfter = %v, want 0", res.RequeueAfter)
	}
}

func TestNixosConfigurationReconciler_ResolveGitCredentialsPrefersSSHKey(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "git-creds"},
		Data: map[string][]byte{
			"ssh-privatekey": []byte("fake-key-bytes"),
		},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1"},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			GitCredentialsSecretRef: &nixosv1alpha1.SecretKeyRef{Name: "git-creds", Key: "ssh-privatekey"},
		},
	}
	r, _ := newConfigReconciler(t, secret)

	creds, release, err := r.resolveGitCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveGitCredentials() error = %v", err)
	}
	defer release()
	if string(creds.SSHKey) != "fake-key-bytes" {
		t.Errorf("SSHKey = %q, want fake-key-bytes", creds.SSHKey)
	}
}

func TestNixosConfigurationReconciler_ResolveGitCredentialsDefaultsToToken(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "git-creds"},
		Data:       map[string][]byte{"token": []byte("fake-token")},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1"},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			GitCredentialsSecretRef: &nixosv1alpha1.SecretKeyRef{Name: "git-creds"},
		},
	}
	r, _ := newConfigReconciler(t, secret)

	creds, release, err := r.resolveGitCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveGitCredentials() error = %v", err)
	}
	defer release()
	if creds.Token != "fake-token" {
		t.Errorf("Token = %q, want fake-token", creds.Token)
	}
}

func TestNixosConfigurationReconciler_ResolveGitCredentialsNoneConfigured(t *testing.T) {
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1"},
	}
	r, _ := newConfigReconciler(t)

	creds, release, err := r.resolveGitCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveGitCredentials() error = %v", err)
	}
	defer release()
	if creds.Token != "" || len(creds.SSHKey) != 0 {
		t.Error("expected empty credentials when no ref is configured")
	}
}

func TestNixosConfigurationReconciler_BuildInjectSourcesInline(t *testing.T) {
	inline := "hello world"
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1"},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			AdditionalFiles: []nixosv1alpha1.AdditionalFile{
				{Path: "etc/greeting.txt", Inline: &inline},
				{Path: "etc/facts.txt", HardwareFacts: true},
			},
		},
	}
	machine := &nixosv1alpha1.Machine{
		Status: nixosv1alpha1.MachineStatus{Facts: map[string]string{"cpuCount": "4"}},
	}
	r, _ := newConfigReconciler(t)

	sources, release, err := r.buildInjectSources(context.Background(), cfg, machine)
	if err != nil {
		t.Fatalf("buildInjectSources() error = %v", err)
	}
	defer release()
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}
	if sources[0].Inline == nil || *sources[0].Inline != inline {
		t.Errorf("sources[0].Inline = %v, want %q", sources[0].Inline, inline)
	}
	if sources[1].Facts == nil {
		t.Fatal("sources[1].Facts should be set for a hardwareFacts entry")
	}
	if got := string(sources[1].Facts()); got != "cpuCount=4\n" {
		t.Errorf("Facts() = %q, want cpuCount=4\\n", got)
	}
}

func TestNixosConfigurationReconciler_BuildInjectSourcesRejectsEmptyEntry(t *testing.T) {
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-1"},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			AdditionalFiles: []nixosv1alpha1.AdditionalFile{{Path: "etc/empty.txt"}},
		},
	}
	r, _ := newConfigReconciler(t)

	_, _, err := r.buildInjectSources(context.Background(), cfg, &nixosv1alpha1.Machine{})
	if err == nil {
		t.Fatal("expected error for an additional file with no content source")
	}
}

func TestNixosConfigurationReconciler_StageApplyIdentityRequiresSSHKeyRef(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
	}
	r, _ := newConfigReconciler(t)

	_, _, err := r.stageApplyIdentity(context.Background(), machine)
	if err == nil {
		t.Fatal("expected error when machine has no sshKeySecretRef")
	}
}

func TestNixosConfigurationReconciler_DoesNotClaimMachineBeforeSuccessfulApply(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-new", Finalizers: []string{nixosv1alpha1.FinalizerName}},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			MachineRef: "host-1",
			GitRepo:    "https://example.com/repo.git",
			Flake:      "#host-1",
		},
	}
	r, c := newConfigReconciler(t, machine, cfg)

	// The Machine has no sshKeySecretRef, so resolving probe credentials fails
	// before any clone or apply is attempted.
	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-new"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got := &nixosv1alpha1.Machine{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "host-1"}, got); err != nil {
		t.Fatalf("Get() machine error = %v", err)
	}
	if got.Status.HasConfiguration || got.Status.AppliedConfiguration != "" {
		t.Errorf("machine should not be claimed before a successful apply, got HasConfiguration=%v AppliedConfiguration=%q",
			got.Status.HasConfiguration, got.Status.AppliedConfiguration)
	}

	cfgGot := &nixosv1alpha1.NixosConfiguration{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-new"}, cfgGot); err != nil {
		t.Fatalf("Get() cfg error = %v", err)
	}
	if cfgGot.Status.Phase != nixosv1alpha1.PhaseFailed {
		t.Errorf("Phase = %q, want Failed", cfgGot.Status.Phase)
	}
}

func TestNixosConfigurationReconciler_FailBecomesTerminalAfterMaxAttempts(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-bad-url", Finalizers: []string{nixosv1alpha1.FinalizerName}},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			MachineRef: "host-1",
			GitRepo:    "https://example.com/repo.git; rm -rf /",
			Flake:      "#host-1",
		},
	}
	r, c := newConfigReconciler(t, machine, cfg)
	r.MaxAttempts = 2

	req := ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-bad-url"}}

	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("Reconcile() #1 error = %v", err)
	}
	if got := r.Backoff.Count(req.String()); got != 1 {
		t.Fatalf("Backoff.Count after #1 = %d, want 1", got)
	}
	got := &nixosv1alpha1.NixosConfiguration{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-bad-url"}, got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reason := conditionReason(got.Status.Conditions, nixosv1alpha1.ConditionApplied); reason != "Failed" {
		t.Errorf("condition reason after #1 = %q, want Failed (not yet terminal)", reason)
	}

	res, err := r.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() #2 error = %v", err)
	}
	if res.RequeueAfter != 0 {
		t.Errorf("RequeueAfter = %v, want 0 once MaxAttempts is reached", res.RequeueAfter)
	}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cfg-bad-url"}, got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reason := conditionReason(got.Status.Conditions, nixosv1alpha1.ConditionApplied); reason != "FailedTerminal" {
		t.Errorf("condition reason after #2 = %q, want FailedTerminal", reason)
	}
}

func conditionReason(conditions []metav1.Condition, conditionType string) string {
	for _, c := range conditions {
		if c.Type == conditionType {
			return c.Reason
		}
	}
	return ""
}

func TestNixosConfigurationReconciler_ClassifiesUnreachableSeparatelyFromTransientFailures(t *testing.T) {
	machine := &nixosv1alpha1.Machine{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "host-1"},
		Spec:       nixosv1alpha1.MachineSpec{Hostname: "10.0.0.5"},
	}
	cfg := &nixosv1alpha1.NixosConfiguration{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "cfg-new", Finalizers: []string{nixosv1alpha1.FinalizerName}},
		Spec: nixosv1alpha1.NixosConfigurationSpec{
			MachineRef: "host-1",
			GitRepo:    "https://example.com/repo.git",
			Flake:      "#host-1",
		},
	}
	r, _ := newConfigReconciler(t, machine, cfg)
	req := ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "cfg-new"}}

	if _, err := r.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// Credential resolution failure (no sshKeySecretRef) is a configuration
	// problem, not a reachability classification, so it must not touch the
	// Unreachable-specific tracker.
	if r.UnreachableBackoff.Count(req.String()) != 0 {
		t.Errorf("UnreachableBackoff.Count = %d, want 0 for a credential-resolution failure", r.UnreachableBackoff.Count(req.String()))
	}
	if r.Backoff.Count(req.String()) == 0 {
		t.Error("expected the transient-error tracker to record the credential-resolution failure")
	}
}

func TestApplyOutcomeAndReconcileOutcome(t *testing.T) {
	if applyOutcome(nil) != "success" {
		t.Error("applyOutcome(nil) should be success")
	}
	if applyOutcome(context.DeadlineExceeded) != "failure" {
		t.Error("applyOutcome(err) should be failure")
	}
	if reconcileOutcome(nil) != "success" {
		t.Error("reconcileOutcome(nil) should be success")
	}
	if reconcileOutcome(context.DeadlineExceeded) != "error" {
		t.Error("reconcileOutcome(err) should be error")
	}
}
