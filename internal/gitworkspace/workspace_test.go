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

package gitworkspace

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestClassifyCloneErrAuth(t *testing.T) {
	err := classifyCloneErr(errors.New("git clone: Authentication failed for 'https://example.com'"))
	var we *WorkspaceError
	if !errors.As(err, &we) || we.Kind != ErrAuthFailed {
		t.Fatalf("classifyCloneErr() = %v, want ErrAuthFailed", err)
	}
}

func TestClassifyCloneErrNetwork(t *testing.T) {
	err := classifyCloneErr(errors.New("fatal: unable to access 'https://example.com/': Could not resolve host"))
	var we *WorkspaceError
	if !errors.As(err, &we) || we.Kind != ErrNetworkError {
		t.Fatalf("classifyCloneErr() = %v, want ErrNetworkError", err)
	}
}

func TestWriteCredentialHelperWritesExecutableTokenScript(t *testing.T) {
	base := t.TempDir()
	path, cleanup, err := writeCredentialHelper(base, "super-secret-token")
	if err != nil {
		t.Fatalf("writeCredentialHelper: %v", err)
	}
	defer cleanup()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read helper: %v", err)
	}
	if !strings.Contains(string(content), "super-secret-token") {
		t.Fatalf("helper script does not contain the token it should echo")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat helper: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Fatalf("helper script is not executable: mode=%v", info.Mode())
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("helper script still exists after cleanup")
	}
}

func TestWriteScratchKeyPermissions(t *testing.T) {
	base := t.TempDir()
	path, cleanup, err := writeScratchKey(base, []byte("PEM-BYTES"))
	if err != nil {
		t.Fatalf("writeScratchKey: %v", err)
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("key mode = %v, want 0600", info.Mode().Perm())
	}
}
