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

// Package fingerprint computes a deterministic hash over the fully resolved
// desired state of a NixosConfiguration, the engine's idempotence key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/in-cloud-io/nixos-infra-operator/internal/inject"
)

// Result contains both display forms of a computed fingerprint.
type Result struct {
	// Short is the first 10 hex characters, used for compact display.
	Short string
	// Full is the complete SHA256 hash with a "sha256:" prefix.
	Full string
}

// DesiredState is the fully resolved input to the fingerprint: nothing here
// may be re-derived differently between two reconciles of logically
// identical input.
type DesiredState struct {
	CommitHash          string
	Flake               string
	ConfigurationSubdir string
	FullInstall         bool
	InjectedFiles       []inject.InjectedFile
}

// canonicalFile mirrors InjectedFile with alphabetically ordered JSON fields.
type canonicalFile struct {
	Mode   uint32 `json:"mode"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type canonicalState struct {
	CommitHash          string          `json:"commitHash"`
	ConfigurationSubdir string          `json:"configurationSubdir"`
	Files               []canonicalFile `json:"files"`
	Flake               string          `json:"flake"`
	FullInstall         bool            `json:"fullInstall"`
}

func toCanonical(d DesiredState) canonicalState {
	files := make([]canonicalFile, len(d.InjectedFiles))
	for i, f := range d.InjectedFiles {
		files[i] = canonicalFile{Mode: f.Mode, Path: f.Path, SHA256: f.SHA256}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return canonicalState{
		CommitHash:          d.CommitHash,
		ConfigurationSubdir: d.ConfigurationSubdir,
		Files:               files,
		Flake:               d.Flake,
		FullInstall:         d.FullInstall,
	}
}

// Compute returns a deterministic fingerprint of d. Two DesiredState values
// that differ only in the order of InjectedFiles produce the same result.
func Compute(d DesiredState) Result {
	canonical := toCanonical(d)

	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return Result{}
	}

	hash := sha256.Sum256(jsonBytes)
	fullHex := hex.EncodeToString(hash[:])

	return Result{
		Short: fullHex[:10],
		Full:  "sha256:" + fullHex,
	}
}

// ToCanonicalJSON returns the canonical JSON representation used for
// hashing, primarily for debugging and golden-file comparisons in tests.
func ToCanonicalJSON(d DesiredState) ([]byte, error) {
	return json.Marshal(toCanonical(d))
}
