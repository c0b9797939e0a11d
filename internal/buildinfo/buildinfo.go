/**
# Copyright (c) NVIDIA CORPORATION.  All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package buildinfo

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Identity is the build a publish run belongs to. Empty fields were not found.
type Identity struct {
	RepoURL string
	Branch  string
	GitSHA  string
	BuildNo string
}

// GitFunc runs git with args and returns its trimmed standard output
type GitFunc func(ctx context.Context, args ...string) (string, error)

// Discoverer fills in the build identity from the CI environment and the git
// checkout in the working directory.
type Discoverer struct {
	logger logrus.FieldLogger
	getenv func(string) string
	git    GitFunc
}

// Option configures a Discoverer
type Option func(*Discoverer)

// WithGetenv replaces the environment lookup
func WithGetenv(getenv func(string) string) Option {
	return func(d *Discoverer) {
		d.getenv = getenv
	}
}

// WithGit replaces the git command runner
func WithGit(git GitFunc) Option {
	return func(d *Discoverer) {
		d.git = git
	}
}

// NewDiscoverer returns a Discoverer reading the process environment and
// running the git binary found in PATH.
func NewDiscoverer(logger logrus.FieldLogger, opts ...Option) *Discoverer {
	d := &Discoverer{
		logger: logger,
		getenv: os.Getenv,
		git:    runGit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover completes the fields of overrides that are empty. Each field is
// taken from the first of: overrides, CI environment, git.
func (d *Discoverer) Discover(ctx context.Context, overrides Identity) Identity {
	id := overrides
	if id.RepoURL == "" {
		id.RepoURL = d.lookup(ctx, []string{"GIT_URL"}, "config", "--get", "remote.origin.url")
	}
	if id.Branch == "" {
		id.Branch = d.lookup(ctx, []string{"BRANCH_NAME", "GIT_BRANCH"}, "rev-parse", "--abbrev-ref", "HEAD")
		// GIT_BRANCH is reported as origin/<branch> by some CI systems
		id.Branch = strings.TrimPrefix(id.Branch, "origin/")
	}
	if id.GitSHA == "" {
		id.GitSHA = d.lookup(ctx, []string{"GIT_COMMIT"}, "rev-parse", "HEAD")
	}
	if id.BuildNo == "" {
		id.BuildNo = d.lookup(ctx, []string{"BUILD_NUMBER"})
	}
	d.logger.Debugf("Build identity: repo=%q branch=%q sha=%q build=%q", id.RepoURL, id.Branch, id.GitSHA, id.BuildNo)
	return id
}

func (d *Discoverer) lookup(ctx context.Context, envs []string, gitArgs ...string) string {
	for _, env := range envs {
		if v := strings.TrimSpace(d.getenv(env)); v != "" {
			return v
		}
	}
	if len(gitArgs) == 0 {
		return ""
	}
	out, err := d.git(ctx, gitArgs...)
	if err != nil {
		d.logger.Debugf("git %s: %v", strings.Join(gitArgs, " "), err)
		return ""
	}
	return out
}

func runGit(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ParseRepoURL splits a git remote URL into the organization and the
// repository base name. Supported forms are https://host/org/repo.git,
// ssh://git@host/org/repo and git@host:org/repo.git.
func ParseRepoURL(remote string) (org string, repo string, err error) {
	var p string
	switch {
	case strings.Contains(remote, "://"):
		u, err := url.Parse(remote)
		if err != nil {
			return "", "", fmt.Errorf("invalid repository url %q: %w", remote, err)
		}
		p = u.Path
	case strings.Contains(remote, ":"):
		// scp-like syntax
		p = remote[strings.Index(remote, ":")+1:]
	default:
		return "", "", fmt.Errorf("invalid repository url %q", remote)
	}

	parts := strings.Split(strings.Trim(strings.TrimSuffix(strings.TrimRight(p, "/"), ".git"), "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("repository url %q does not name an organization and a repository", remote)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}
