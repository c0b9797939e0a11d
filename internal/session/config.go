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

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/NVIDIA/artifact-publish/internal/buildinfo"
)

// Mode selects how a session treats the manifest
type Mode int

const (
	// ModeDirect creates a manifest, uploads it and propagates retention in one run
	ModeDirect Mode = iota
	// ModeIncremental accumulates the manifest in a local file without publishing it
	ModeIncremental
	// ModeFinal publishes a manifest accumulated by incremental runs
	ModeFinal
	// ModeNoManifest uploads files only
	ModeNoManifest
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeIncremental:
		return "incremental"
	case ModeFinal:
		return "final"
	case ModeNoManifest:
		return "no-manifest"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ModeFor derives the mode from the incremental and final manifest file
// options and the no-manifest switch. It returns the local manifest file the
// mode works on, if any.
func ModeFor(incremental string, final string, noManifest bool) (Mode, string, error) {
	switch {
	case incremental != "" && final != "":
		return 0, "", &ConfigError{Reason: "--incremental and --final are mutually exclusive"}
	case noManifest && (incremental != "" || final != ""):
		return 0, "", &ConfigError{Reason: "--no-manifest cannot be combined with --incremental or --final"}
	case incremental != "":
		return ModeIncremental, incremental, nil
	case final != "":
		return ModeFinal, final, nil
	case noManifest:
		return ModeNoManifest, "", nil
	}
	return ModeDirect, "", nil
}

// Config holds everything a publish session needs to know about the run
type Config struct {
	// Paths are the local files and folders to upload
	Paths []string
	// Identity is the build the run publishes
	Identity buildinfo.Identity

	Mode Mode
	// LocalManifest is the manifest file used in incremental and final mode
	LocalManifest string

	// DepFiles are dependency lists merged into the manifest
	DepFiles []string
	// DepGenericFileDst, if set, uploads Paths below this location as
	// generic-file dependencies instead of build files
	DepGenericFileDst string

	Root   string
	Layout string
	// Days is the initial retention of the published build
	Days float64

	SkipFilesAlreadyPresent bool
	PathPopCount            int
	// MaxWorkers bounds the number of concurrent upload tasks
	MaxWorkers int

	// Now overrides the session start time
	Now time.Time
}

// Validate checks that the configuration describes a runnable session
func (c Config) Validate() error {
	var problems []string

	if c.Identity.BuildNo == "" {
		problems = append(problems, "no build number given and BUILD_NUMBER is not set")
	}
	if c.Identity.RepoURL == "" {
		problems = append(problems, "no git repository given and none could be discovered")
	} else if _, _, err := buildinfo.ParseRepoURL(c.Identity.RepoURL); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Identity.Branch == "" {
		problems = append(problems, "no git branch given and none could be discovered")
	}
	if c.Days <= 0 {
		problems = append(problems, fmt.Sprintf("retention must be positive, got %v days", c.Days))
	}
	if c.PathPopCount < 0 {
		problems = append(problems, fmt.Sprintf("path pop count must not be negative, got %d", c.PathPopCount))
	}
	if c.MaxWorkers < 0 {
		problems = append(problems, fmt.Sprintf("max workers must not be negative, got %d", c.MaxWorkers))
	}
	if c.Root == "" {
		problems = append(problems, "root must not be empty")
	}

	switch c.Mode {
	case ModeIncremental, ModeFinal:
		if c.LocalManifest == "" {
			problems = append(problems, fmt.Sprintf("%s mode needs a local manifest file", c.Mode))
		}
	case ModeNoManifest:
		if len(c.DepFiles) > 0 {
			problems = append(problems, "--dep-file cannot be used with --no-manifest")
		}
		if c.DepGenericFileDst != "" {
			problems = append(problems, "--dep-generic-file-dst cannot be used with --no-manifest")
		}
	case ModeDirect:
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %s", c.Mode))
	}

	if len(problems) > 0 {
		return &ConfigError{Reason: strings.Join(problems, "; ")}
	}
	return nil
}
