/*
 * Copyright (c), NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package retention

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/image"
	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/retention"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

type command struct {
	logger *logrus.Logger
}

type options struct {
	manifest     string
	days         float64
	url          string
	user         string
	token        string
	timeout      time.Duration
	parallelism  int
	verifyDocker bool
}

// NewCommand constructs a retention command with the specified logger
func NewCommand(logger *logrus.Logger) *cli.Command {
	c := command{
		logger: logger,
	}
	return c.build()
}

func (m command) build() *cli.Command {
	// Create the 'retention' command
	r := cli.Command{
		Name:  "retention",
		Usage: "Maintain the retention of published builds",
	}

	r.Subcommands = []*cli.Command{
		m.buildExtend(),
	}

	return &r
}

func (m command) buildExtend() *cli.Command {
	opts := options{}

	c := cli.Command{
		Name:  "extend",
		Usage: "Keep a published build and everything it depends on for another number of days",
		Before: func(c *cli.Context) error {
			return m.validateFlags(&opts)
		},
		Action: func(c *cli.Context) error {
			return m.extend(c, &opts)
		},
	}

	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "manifest",
			Usage:       "Location of the published build, or of its manifest.json, relative to or below the repository URL",
			Required:    true,
			Destination: &opts.manifest,
		},
		&cli.Float64Flag{
			Name:        "days",
			Usage:       "Number of days from now the build is kept",
			Value:       consts.DefaultRetentionDays,
			Destination: &opts.days,
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Base URL of the artifact repository",
			EnvVars:     []string{"ARTIFACT_URL"},
			Destination: &opts.url,
		},
		&cli.StringFlag{
			Name:        "user",
			Usage:       "Repository user. Without a user the token is sent as a bearer token",
			EnvVars:     []string{"ARTIFACT_USER"},
			Destination: &opts.user,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Repository password or access token",
			EnvVars:     []string{"ARTIFACT_TOKEN"},
			Destination: &opts.token,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Timeout of a single repository request",
			Value:       5 * time.Minute,
			Destination: &opts.timeout,
		},
		&cli.IntFlag{
			Name:        "parallelism",
			Usage:       "Maximum number of concurrent retention updates",
			Value:       consts.MaxWorkers,
			Destination: &opts.parallelism,
		},
		&cli.BoolFlag{
			Name:        "verify-docker",
			Usage:       "Check the digest of docker dependencies against their registry",
			Destination: &opts.verifyDocker,
		},
	}

	return &c
}

func (m command) validateFlags(opts *options) error {
	if opts.url == "" {
		return fmt.Errorf("no repository URL given, use --url or ARTIFACT_URL")
	}
	if opts.days <= 0 {
		return fmt.Errorf("--days must be positive, got %v", opts.days)
	}
	if opts.parallelism < 1 {
		return fmt.Errorf("--parallelism must be at least 1, got %d", opts.parallelism)
	}
	return nil
}

func (m command) extend(c *cli.Context, opts *options) error {
	st := store.NewHTTP(opts.url,
		store.WithCredentials(opts.user, opts.token),
		store.WithClient(&http.Client{Timeout: opts.timeout}),
		store.WithLogger(m.logger),
	)

	keepUntil := time.Now().UTC().Truncate(time.Second).Add(time.Duration(opts.days * float64(24*time.Hour)))
	propagatorOpts := retention.Options{
		KeepUntil:   keepUntil,
		Parallelism: opts.parallelism,
	}
	if opts.verifyDocker {
		propagatorOpts.Verifier = image.NewVerifier()
	}
	p := retention.New(st, m.logger, propagatorOpts)

	// the build itself is walked like any build it depends on
	build := &manifest.BuildArtifact{URL: buildLocation(opts.manifest)}
	if err := p.Propagate(c.Context, manifest.Dependencies{build}); err != nil {
		return fmt.Errorf("failed to extend retention of %s: %w", build.URL, err)
	}

	m.logger.Infof("%s and its dependencies are kept at least until %s", build.URL, store.FormatStamp(keepUntil))
	return nil
}

// buildLocation returns the folder of a build given the folder or its manifest
func buildLocation(arg string) string {
	arg = strings.TrimRight(arg, "/")
	return strings.TrimSuffix(strings.TrimSuffix(arg, consts.ManifestFileName), "/")
}
