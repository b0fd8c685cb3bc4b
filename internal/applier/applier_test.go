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

package applier

import "testing"

func TestBuildArgsSwitch(t *testing.T) {
	args := buildArgs(Request{
		Mode:       ModeSwitch,
		TargetHost: "10.0.0.5",
		SSHUser:    "root",
		Flake:      "#host-1",
		WorkDir:    "/tmp/ws/repo",
	})
	want := []string{"nixos-rebuild", "switch", "--target-host", "root@10.0.0.5", "--flake", "/tmp/ws/repo#host-1"}
	assertArgsEqual(t, args, want)
}

func TestBuildArgsBootstrap(t *testing.T) {
	args := buildArgs(Request{
		Mode:       ModeBootstrap,
		TargetHost: "10.0.0.5",
		SSHUser:    "root",
		Flake:      "#host-1",
		WorkDir:    "/tmp/ws/repo",
	})
	want := []string{"nixos-anywhere", "--target-host", "root@10.0.0.5", "--kexec", "/tmp/ws/repo#host-1"}
	assertArgsEqual(t, args, want)
}

func TestBuildArgsBootstrapWithIdentityFile(t *testing.T) {
	args := buildArgs(Request{
		Mode:         ModeBootstrap,
		TargetHost:   "10.0.0.5",
		SSHUser:      "root",
		Flake:        "#host-1",
		WorkDir:      "/tmp/ws/repo",
		IdentityFile: "/tmp/ws/scratch/nio-abc123",
	})
	want := []string{"nixos-anywhere", "--target-host", "root@10.0.0.5", "--kexec", "-i", "/tmp/ws/scratch/nio-abc123", "/tmp/ws/repo#host-1"}
	assertArgsEqual(t, args, want)
}

func TestBuildArgsWithoutUser(t *testing.T) {
	args := buildArgs(Request{
		Mode:       ModeSwitch,
		TargetHost: "10.0.0.5",
		Flake:      "#host-1",
		WorkDir:    "/tmp/ws/repo",
	})
	if args[3] != "10.0.0.5" {
		t.Errorf("target = %q, want bare host with no user prefix", args[3])
	}
}

func TestRingBufferRetainsOnlyTail(t *testing.T) {
	rb := newRingBuffer(10)
	rb.Write("aaaaaaaaaa")
	rb.Write("bbbbbbbbbb")
	if got := rb.String(); len(got) > 10 {
		t.Errorf("ring buffer grew beyond max: %d bytes", len(got))
	}
}

func assertArgsEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}
