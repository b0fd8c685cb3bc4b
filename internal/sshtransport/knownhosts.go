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

package sshtransport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch is returned when a host presents a key that differs
// from the one previously pinned for it.
var ErrHostKeyMismatch = errors.New("host key does not match pinned fingerprint")

// KnownHosts implements Trust-On-First-Use host key verification backed by
// an OpenSSH known_hosts-format file, with a process-wide lock serializing
// writes and an atomic rename guaranteeing the file is never left partially
// written.
type KnownHosts struct {
	path string

	mu sync.RWMutex
}

// NewKnownHosts opens (creating if necessary) the known_hosts file at path.
func NewKnownHosts(path string) (*KnownHosts, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create known_hosts directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := renameio.WriteFile(path, nil, 0600); err != nil {
			return nil, fmt.Errorf("create known_hosts file: %w", err)
		}
	}
	return &KnownHosts{path: path}, nil
}

// HostKeyCallback returns an ssh.HostKeyCallback implementing TOFU: a host
// seen for the first time is trusted and recorded; a host whose stored
// fingerprint differs from what it now presents is rejected. onLearn, if
// non-nil, is invoked with the hostname the moment a new key is pinned so
// the caller can surface a HostKeyLearned event; it is never called for a
// host whose pinned key was merely re-verified.
func (k *KnownHosts) HostKeyCallback(onLearn func(hostname string)) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		k.mu.RLock()
		cb, err := knownhosts.New(k.path)
		k.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("load known_hosts: %w", err)
		}

		err = cb(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			// A conflicting entry already exists for this host: refuse.
			return fmt.Errorf("%w: %s", ErrHostKeyMismatch, hostname)
		}

		// No entry at all: trust on first use.
		if err := k.learn(hostname, remote, key); err != nil {
			return err
		}
		if onLearn != nil {
			onLearn(hostname)
		}
		return nil
	}
}

func (k *KnownHosts) learn(hostname string, remote net.Addr, key ssh.PublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	existing, err := os.ReadFile(k.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read known_hosts: %w", err)
	}

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	updated := append(existing, []byte(line+"\n")...)

	if err := renameio.WriteFile(k.path, updated, 0600); err != nil {
		return fmt.Errorf("persist known_hosts entry: %w", err)
	}
	return nil
}

// Forget removes any stored entry for hostname, allowing the next connect to
// re-learn it. This is an explicit administrative action; the engine never
// calls it automatically on a mismatch.
func (k *KnownHosts) Forget(hostname string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	existing, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read known_hosts: %w", err)
	}

	marker := []byte(knownhosts.Normalize(hostname))
	var kept [][]byte
	for _, line := range splitLines(existing) {
		if !containsPrefix(line, marker) {
			kept = append(kept, line)
		}
	}

	return renameio.WriteFile(k.path, joinLines(kept), 0600)
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, b[start:])
	}
	return out
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}

func containsPrefix(line, marker []byte) bool {
	if len(marker) == 0 || len(line) < len(marker) {
		return false
	}
	for i := range marker {
		if line[i] != marker[i] {
			return false
		}
	}
	return true
}
