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

package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/NVIDIA/artifact-publish/internal/consts"
)

// Manifest describes one published artifact set: the build it came from, how
// long it is retained, the files it contains and what it depends on.
type Manifest struct {
	SchemaVersion int          `json:"schema-version"`
	BuildInfo     BuildInfo    `json:"build-info"`
	Retention     Retention    `json:"retention"`
	Files         []FileRecord `json:"files"`
	Dependencies  Dependencies `json:"dependencies"`
}

// BuildInfo identifies the build that produced a manifest
type BuildInfo struct {
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch"`
	BuildNo   string    `json:"build-no"`
	GitSHA    string    `json:"git-sha"`
	Timestamp time.Time `json:"timestamp"`
}

// Retention holds the retention requested when the manifest was created
type Retention struct {
	InitialRetentionDays float64 `json:"initial-retention-time-days"`
}

// KeepUntil returns the time the artifact must be kept until when published at from
func (r Retention) KeepUntil(from time.Time) time.Time {
	return from.Add(time.Duration(r.InitialRetentionDays * float64(24*time.Hour)))
}

// FileRecord is a single uploaded file
type FileRecord struct {
	// Path is the destination, relative to the artifact folder
	Path string `json:"path"`
	// CIPath is the local source path the file was uploaded from
	CIPath string `json:"ci-path,omitempty"`
	MD5    string `json:"md5"`
	Size   int64  `json:"size"`
}

// DuplicateFileError is returned when a different file is already recorded for a path
type DuplicateFileError struct {
	Path string
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("a different file is already recorded for path %q", e.Path)
}

// New creates an empty manifest for the given build. The timestamp is
// truncated to seconds and converted to UTC.
func New(info BuildInfo, days float64) *Manifest {
	info.Timestamp = info.Timestamp.UTC().Truncate(time.Second)
	return &Manifest{
		SchemaVersion: consts.SchemaVersion,
		BuildInfo:     info,
		Retention:     Retention{InitialRetentionDays: days},
		Files:         []FileRecord{},
		Dependencies:  Dependencies{},
	}
}

// AddFile appends a file record. A record identical to an existing one is
// not added again; a differing record for an existing path is an error.
func (m *Manifest) AddFile(f FileRecord) (bool, error) {
	for _, existing := range m.Files {
		if existing.Path != f.Path {
			continue
		}
		if existing.MD5 == f.MD5 && existing.Size == f.Size {
			return false, nil
		}
		return false, &DuplicateFileError{Path: f.Path}
	}
	m.Files = append(m.Files, f)
	return true, nil
}

// AddDependency appends d unless a dependency on the same target is already listed
func (m *Manifest) AddDependency(d Dependency) bool {
	key := identityKey(d)
	for _, existing := range m.Dependencies {
		if identityKey(existing) == key {
			return false
		}
	}
	m.Dependencies = append(m.Dependencies, d)
	return true
}

// Parse decodes and validates a manifest document
func Parse(doc []byte) (*Manifest, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := json.Unmarshal(doc, m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = []FileRecord{}
	}
	if m.Dependencies == nil {
		m.Dependencies = Dependencies{}
	}
	return m, nil
}

// Serialize encodes the manifest as indented JSON with a trailing newline
func (m *Manifest) Serialize() ([]byte, error) {
	out := *m
	if out.Files == nil {
		out.Files = []FileRecord{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}
