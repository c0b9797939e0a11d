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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/artifact-publish/internal/buildinfo"
	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/image"
	"github.com/NVIDIA/artifact-publish/internal/logging"
	"github.com/NVIDIA/artifact-publish/internal/metrics"
	"github.com/NVIDIA/artifact-publish/internal/session"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

var version = "1.0.0"

type config struct {
	verbosity int

	gitRepo   string
	gitBranch string
	gitSHA    string
	buildNo   string

	incremental string
	final       string
	noManifest  bool

	depFiles                *cli.StringSlice
	depGenericFileDst       string
	root                    string
	layout                  string
	days                    float64
	skipFilesAlreadyPresent bool
	pathPopCount            int

	url          string
	user         string
	token        string
	timeout      time.Duration
	verifyDocker bool
	metricsFile  string

	session session.Config
}

func main() {
	config := config{
		depFiles: cli.NewStringSlice(),
	}
	diag := &logging.Diagnostics{}
	logger := logging.NewLogger(os.Stderr, 0, diag)

	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	// Create the top-level CLI
	c := cli.NewApp()
	c.Name = "artifact-publish"
	c.Usage = "Upload build outputs to the artifact repository and keep their dependencies alive"
	c.UsageText = "artifact-publish [options] [FILE|FOLDER...]"
	c.Version = version

	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "git-repo",
			Usage:       "Git repository the build was made from. Discovered from GIT_URL or the checkout if not set",
			Destination: &config.gitRepo,
		},
		&cli.StringFlag{
			Name:        "git-branch",
			Usage:       "Branch the build was made from. Discovered from BRANCH_NAME, GIT_BRANCH or the checkout if not set",
			Destination: &config.gitBranch,
		},
		&cli.StringFlag{
			Name:        "git-sha",
			Usage:       "Commit the build was made from. Discovered from GIT_COMMIT or the checkout if not set",
			Destination: &config.gitSHA,
		},
		&cli.StringFlag{
			Name:        "build-no",
			Usage:       "Build number. Taken from BUILD_NUMBER if not set",
			Destination: &config.buildNo,
		},
		&cli.StringFlag{
			Name:        "incremental",
			Aliases:     []string{"i"},
			Usage:       "Record the uploaded files in the local manifest `FILE` without publishing it",
			Destination: &config.incremental,
		},
		&cli.StringFlag{
			Name:        "final",
			Aliases:     []string{"f"},
			Usage:       "Publish the manifest accumulated in `FILE` and remove it",
			Destination: &config.final,
		},
		&cli.BoolFlag{
			Name:        "no-manifest",
			Usage:       "Upload files without creating a manifest",
			Destination: &config.noManifest,
		},
		&cli.StringSliceFlag{
			Name:        "dep-file",
			Usage:       "Add the dependencies listed in `FILE` (JSON or YAML) to the manifest. May be repeated",
			Destination: config.depFiles,
		},
		&cli.StringFlag{
			Name:        "dep-generic-file-dst",
			Usage:       "Upload the files below `PATH` and record them as generic-file dependencies",
			Destination: &config.depGenericFileDst,
		},
		&cli.StringFlag{
			Name:        "root",
			Aliases:     []string{"r"},
			Usage:       "Top level folder builds are published to",
			Value:       consts.DefaultRoot,
			Destination: &config.root,
		},
		&cli.StringFlag{
			Name:        "layout",
			Usage:       "Template of the location builds are published to, below the repository URL",
			Value:       consts.DefaultLayout,
			Destination: &config.layout,
		},
		&cli.Float64Flag{
			Name:        "days",
			Aliases:     []string{"d"},
			Usage:       "Number of days the build and its dependencies are kept",
			Value:       consts.DefaultRetentionDays,
			Destination: &config.days,
		},
		&cli.BoolFlag{
			Name:        "skip-files-already-present",
			Usage:       "Skip files that already exist in the repository instead of failing",
			Destination: &config.skipFilesAlreadyPresent,
		},
		&cli.IntFlag{
			Name:        "path-pop-cnt",
			Aliases:     []string{"p"},
			Usage:       "Number of leading path components removed from local paths",
			Destination: &config.pathPopCount,
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Base URL of the artifact repository",
			EnvVars:     []string{"ARTIFACT_URL"},
			Destination: &config.url,
		},
		&cli.StringFlag{
			Name:        "user",
			Usage:       "Repository user. Without a user the token is sent as a bearer token",
			EnvVars:     []string{"ARTIFACT_USER"},
			Destination: &config.user,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Repository password or access token",
			EnvVars:     []string{"ARTIFACT_TOKEN"},
			Destination: &config.token,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Timeout of a single repository request",
			Value:       5 * time.Minute,
			Destination: &config.timeout,
		},
		&cli.BoolFlag{
			Name:        "verify-docker",
			Usage:       "Check the digest of docker dependencies against their registry",
			Destination: &config.verifyDocker,
		},
		&cli.StringFlag{
			Name:        "metrics-file",
			Usage:       "Write metrics in the Prometheus text format to `FILE`",
			Destination: &config.metricsFile,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Increase verbosity. May be repeated",
			Count:   &config.verbosity,
		},
	}

	c.Before = func(c *cli.Context) error {
		logger.SetLevel(logging.LevelForVerbosity(config.verbosity))
		return validateFlags(c, logger, &config)
	}

	c.Action = func(c *cli.Context) error {
		return run(c, logger, diag, &config)
	}

	err := c.Run(os.Args)
	if err != nil {
		report(logger, err)
	}
	logger.Infof("%d warning(s), %d error(s)", diag.Warnings(), diag.Errors())
	if err != nil {
		log.Exit(1)
	}
}

func validateFlags(c *cli.Context, logger *log.Logger, config *config) error {
	if config.url == "" {
		return &session.ConfigError{Reason: "no repository URL given, use --url or ARTIFACT_URL"}
	}

	mode, local, err := session.ModeFor(config.incremental, config.final, config.noManifest)
	if err != nil {
		return err
	}

	identity := buildinfo.NewDiscoverer(logger).Discover(c.Context, buildinfo.Identity{
		RepoURL: config.gitRepo,
		Branch:  config.gitBranch,
		GitSHA:  config.gitSHA,
		BuildNo: config.buildNo,
	})

	config.session = session.Config{
		Paths:                   c.Args().Slice(),
		Identity:                identity,
		Mode:                    mode,
		LocalManifest:           local,
		DepFiles:                config.depFiles.Value(),
		DepGenericFileDst:       config.depGenericFileDst,
		Root:                    config.root,
		Layout:                  config.layout,
		Days:                    config.days,
		SkipFilesAlreadyPresent: config.skipFilesAlreadyPresent,
		PathPopCount:            config.pathPopCount,
	}
	return config.session.Validate()
}

func run(c *cli.Context, logger *log.Logger, diag *logging.Diagnostics, config *config) error {
	runID := uuid.New().String()
	entry := logger.WithField("run", runID)

	st := store.NewHTTP(config.url,
		store.WithCredentials(config.user, config.token),
		store.WithClient(&http.Client{Timeout: config.timeout}),
		store.WithLogger(entry),
	)

	m := metrics.New()
	opts := []session.Option{session.WithMetrics(m)}
	if config.verifyDocker {
		opts = append(opts, session.WithVerifier(image.NewVerifier()))
	}

	s, err := session.New(config.session, st, entry, opts...)
	if err != nil {
		return err
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := s.Run(ctx)

	if config.metricsFile != "" {
		if werr := m.WriteTextfile(config.metricsFile); werr != nil {
			entry.Warnf("Failed to write metrics: %v", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("publishing stopped in state %s: %w", s.State(), err)
	}

	entry.Infof("Published to %s: %d file(s) uploaded, %d skipped", st.URL(result.Target), result.Uploaded, result.Skipped)
	return nil
}
