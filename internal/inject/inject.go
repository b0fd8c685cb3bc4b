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

// Package inject materializes additional files into a Git working tree
// before the fingerprint is computed, using the same atomic-write pattern
// the on-host file applier uses for the host filesystem.
package inject

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/in-cloud-io/nixos-infra-operator/internal/validate"
)

// ErrPathCollision indicates two additional files resolved to the same path,
// or a file tried to write outside the working tree.
type ErrPathCollision struct{ Path string }

func (e *ErrPathCollision) Error() string { return fmt.Sprintf("path collision: %s", e.Path) }

// Source provides content for one additional file. Exactly one resolver is
// invoked per entry: Inline, Secret, or Facts.
type Source struct {
	Path   string
	Inline *string
	Secret func() ([]byte, error)
	Facts  func() []byte
}

// InjectedFile records the result of writing one source, reused by the
// fingerprint calculator so content is never re-read from disk.
type InjectedFile struct {
	Path   string
	SHA256 string
	Mode   uint32
}

// Inject writes each source under root in declared order, rejecting
// absolute paths, parent-directory escapes, and path collisions. Returns the
// injected files in path-sorted order.
func Inject(root string, sources []Source) ([]InjectedFile, error) {
	seen := make(map[string]bool, len(sources))
	results := make([]InjectedFile, 0, len(sources))

	for _, src := range sources {
		if err := validate.RelativePath(src.Path); err != nil {
			return nil, fmt.Errorf("additional file %q: %w", src.Path, err)
		}
		if seen[src.Path] {
			return nil, &ErrPathCollision{Path: src.Path}
		}
		seen[src.Path] = true

		dest := filepath.Join(root, src.Path)
		if !strings.HasPrefix(dest, filepath.Clean(root)+string(filepath.Separator)) {
			return nil, &ErrPathCollision{Path: src.Path}
		}
		if _, err := os.Stat(dest); err == nil {
			return nil, &ErrPathCollision{Path: src.Path}
		}

		content, mode, err := resolve(src)
		if err != nil {
			return nil, fmt.Errorf("additional file %q: %w", src.Path, err)
		}

		if err := writeAtomic(dest, content, mode); err != nil {
			return nil, fmt.Errorf("additional file %q: %w", src.Path, err)
		}

		sum := sha256.Sum256(content)
		results = append(results, InjectedFile{
			Path:   src.Path,
			SHA256: hex.EncodeToString(sum[:]),
			Mode:   mode,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

func resolve(src Source) ([]byte, uint32, error) {
	switch {
	case src.Inline != nil:
		return []byte(*src.Inline), 0644, nil
	case src.Secret != nil:
		b, err := src.Secret()
		if err != nil {
			return nil, 0, fmt.Errorf("resolve secret-sourced content: %w", err)
		}
		return b, 0600, nil
	case src.Facts != nil:
		return src.Facts(), 0644, nil
	default:
		return nil, 0, fmt.Errorf("additional file has no content source")
	}
}

func writeAtomic(path string, content []byte, mode uint32) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	t, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := t.Write(content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	if err := t.Chmod(os.FileMode(mode)); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomic replace: %w", err)
	}
	return nil
}

// SortedFactLines renders a fact map as deterministic "key=value" lines,
// sorted by key, for the hardwareFacts additional-file source.
func SortedFactLines(facts map[string]string) []byte {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(facts[k])
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
