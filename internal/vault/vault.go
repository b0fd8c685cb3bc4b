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

// Package vault resolves Secret references into short-lived, ref-counted
// in-memory credential material, and stages key files on disk only when an
// external subprocess (git, the credential helper) requires a path rather
// than a byte buffer.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Kind tags the semantic type of a decoded credential.
type Kind string

const (
	KindSSHKey      Kind = "sshKey"
	KindSSHPassword Kind = "sshPassword"
	KindGitToken    Kind = "gitToken"
	KindGitSSHKey   Kind = "gitSSHKey"
	KindFileContent Kind = "fileContent"
)

// Ref identifies a single key within a namespaced Secret.
type Ref struct {
	Namespace string
	Name      string
	Key       string
}

func (r Ref) cacheKey() string {
	return r.Namespace + "/" + r.Name + "#" + r.Key
}

// Handle is a ref-counted view onto decoded secret material. Callers must
// call Release when done; the underlying buffer is zeroed when the last
// holder releases it.
type Handle struct {
	vault *Vault
	ref   Ref
	kind  Kind
}

// Bytes returns the decoded secret material. The returned slice must not be
// retained past Release.
func (h *Handle) Bytes() []byte {
	h.vault.mu.Lock()
	defer h.vault.mu.Unlock()
	entry := h.vault.entries[h.ref.cacheKey()]
	if entry == nil {
		return nil
	}
	return entry.data
}

// Kind reports the credential's semantic type.
func (h *Handle) Kind() Kind { return h.kind }

// Release decrements the reference count, zeroing and discarding the
// backing buffer once no holder remains.
func (h *Handle) Release() {
	h.vault.release(h.ref)
}

type entry struct {
	data     []byte
	kind     Kind
	refCount int
}

// Vault resolves secret references through a Kubernetes client and caches
// decoded material for the lifetime of concurrent holders.
type Vault struct {
	client client.Client

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs a Vault backed by the given client.
func New(c client.Client) *Vault {
	return &Vault{client: c, entries: make(map[string]*entry)}
}

// ErrSecretMissing is returned when the referenced Secret cannot be fetched.
type ErrSecretMissing struct{ Ref Ref }

func (e *ErrSecretMissing) Error() string {
	return fmt.Sprintf("secret %s/%s key %q not found", e.Ref.Namespace, e.Ref.Name, e.Ref.Key)
}

// ErrSecretMalformed is returned when the referenced key is absent from the
// Secret or is empty.
type ErrSecretMalformed struct{ Ref Ref }

func (e *ErrSecretMalformed) Error() string {
	return fmt.Sprintf("secret %s/%s key %q is empty", e.Ref.Namespace, e.Ref.Name, e.Ref.Key)
}

// Resolve fetches and decodes the referenced secret key, returning a
// ref-counted Handle. Resolve calls for the same Ref share one cached buffer
// while any Handle to it is held; calls that race on a cold cache each fetch
// the Secret, and only the first buffer stored is kept.
func (v *Vault) Resolve(ctx context.Context, ref Ref, kind Kind) (*Handle, error) {
	v.mu.Lock()
	if e, ok := v.entries[ref.cacheKey()]; ok {
		e.refCount++
		v.mu.Unlock()
		return &Handle{vault: v, ref: ref, kind: kind}, nil
	}
	v.mu.Unlock()

	secret := &corev1.Secret{}
	if err := v.client.Get(ctx, client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}, secret); err != nil {
		return nil, fmt.Errorf("resolve secret %s/%s: %w", ref.Namespace, ref.Name, &ErrSecretMissing{Ref: ref})
	}

	data, ok := secret.Data[ref.Key]
	if !ok || len(data) == 0 {
		return nil, &ErrSecretMalformed{Ref: ref}
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	v.mu.Lock()
	if e, ok := v.entries[ref.cacheKey()]; ok {
		// Lost a race with a concurrent Resolve; reuse the winner's buffer.
		e.refCount++
		v.mu.Unlock()
		zero(buf)
		return &Handle{vault: v, ref: ref, kind: kind}, nil
	}
	v.entries[ref.cacheKey()] = &entry{data: buf, kind: kind, refCount: 1}
	v.mu.Unlock()

	return &Handle{vault: v, ref: ref, kind: kind}, nil
}

func (v *Vault) release(ref Ref) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.entries[ref.cacheKey()]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		zero(e.data)
		delete(v.entries, ref.cacheKey())
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ScratchFile materializes a Handle's bytes into a mode-0600 file under base
// with an unpredictable name, for subprocesses that require a path rather
// than a byte buffer (e.g. GIT_SSH_COMMAND's -i flag). The caller must call
// the returned cleanup function as soon as the subprocess has started or
// completed.
func ScratchFile(base string, h *Handle) (path string, cleanup func(), err error) {
	if err := os.MkdirAll(base, 0700); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	name, err := randomName()
	if err != nil {
		return "", nil, err
	}
	path = filepath.Join(base, name)

	if err := os.WriteFile(path, h.Bytes(), 0600); err != nil {
		return "", nil, fmt.Errorf("write scratch file: %w", err)
	}

	cleanup = func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func randomName() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate scratch file name: %w", err)
	}
	return "nio-" + hex.EncodeToString(b), nil
}
