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

// Package validate rejects user-controlled strings that would otherwise be
// interpolated into an SSH dial target or a subprocess argument list, before
// they ever reach C4 (SSH transport), C5 (Git workspace), or C8 (applier).
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Error reports a single validation failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func fail(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var hostnamePattern = regexp.MustCompile(`^[\[a-zA-Z0-9]([a-zA-Z0-9\-.:\[\]])*[a-zA-Z0-9\]]?$`)

var dangerousHostnameChars = []string{";", "$", "`", "|", "&", ">", "<", "(", ")", "{", "}", "\n", "\r"}

// Hostname validates a DNS name or IPv4/IPv6 literal, preventing it from
// carrying shell metacharacters through to an SSH client invocation.
func Hostname(hostname string) error {
	if hostname == "" {
		return fail("hostname", "must not be empty")
	}
	if len(hostname) > 253 {
		return fail("hostname", "too long: %d > 253 characters", len(hostname))
	}
	if !hostnamePattern.MatchString(hostname) {
		return fail("hostname", "contains invalid characters: only alphanumeric, hyphens, dots, colons, and brackets allowed")
	}
	for _, ch := range dangerousHostnameChars {
		if strings.Contains(hostname, ch) {
			return fail("hostname", "contains dangerous character %q", ch)
		}
	}
	return nil
}

var allowedGitSchemes = map[string]bool{"https": true, "http": true, "git": true, "ssh": true}

var dangerousURLSubstrings = []string{";", "$", "`", "|", "&", "\n", "\r", "$(", "${"}

// GitURL validates a Git repository URL's scheme and rejects shell
// metacharacters that could escape a subprocess argument.
func GitURL(raw string) error {
	if raw == "" {
		return fail("gitRepo", "must not be empty")
	}
	if len(raw) > 2048 {
		return fail("gitRepo", "too long: %d > 2048 characters", len(raw))
	}

	for _, sub := range dangerousURLSubstrings {
		if strings.Contains(raw, sub) {
			return fail("gitRepo", "contains dangerous substring %q", sub)
		}
	}

	// A scp-like ssh URL ("git@host:path/repo.git") has no parseable scheme;
	// it is accepted once the dangerous-substring check above has passed.
	if !strings.Contains(raw, "://") {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fail("gitRepo", "invalid URL: %v", err)
	}
	if parsed.Scheme != "" && !allowedGitSchemes[parsed.Scheme] {
		return fail("gitRepo", "disallowed scheme %q", parsed.Scheme)
	}
	return nil
}

var sshUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SSHUsername validates an SSH login name.
func SSHUsername(username string) error {
	if username == "" {
		return fail("sshUser", "must not be empty")
	}
	if len(username) > 32 {
		return fail("sshUser", "too long: %d > 32 characters", len(username))
	}
	if !sshUsernamePattern.MatchString(username) {
		return fail("sshUser", "contains invalid characters: only alphanumeric, underscore, and hyphen allowed")
	}
	return nil
}

var dangerousPathChars = []string{";", "$", "`", "|", "&", "\n", "\r", "\x00"}

// RelativePath validates a file path destined for the working tree, refusing
// absolute paths, parent-directory escapes, and shell metacharacters.
func RelativePath(path string) error {
	if path == "" {
		return fail("path", "must not be empty")
	}
	if len(path) > 4096 {
		return fail("path", "too long: %d > 4096 characters", len(path))
	}
	if strings.HasPrefix(path, "/") {
		return fail("path", "must not be absolute")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fail("path", "must not contain \"..\" segments")
		}
	}
	for _, ch := range dangerousPathChars {
		if strings.Contains(path, ch) {
			return fail("path", "contains dangerous character %q", ch)
		}
	}
	return nil
}
