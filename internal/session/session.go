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
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/artifact-publish/internal/buildinfo"
	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/metrics"
	"github.com/NVIDIA/artifact-publish/internal/planner"
	"github.com/NVIDIA/artifact-publish/internal/render"
	"github.com/NVIDIA/artifact-publish/internal/retention"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

// Result describes what a session did
type Result struct {
	State State
	// Target is the location build files were published to
	Target   string
	Uploaded int
	Skipped  int
	Manifest *manifest.Manifest
}

// Session publishes one build. A Session is meant to be run once.
type Session struct {
	cfg      Config
	store    store.Store
	logger   logrus.Ext1FieldLogger
	metrics  *metrics.Metrics
	verifier retention.DockerVerifier

	state State
}

// Option configures a Session
type Option func(*Session)

// WithMetrics records the session's activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithVerifier checks docker dependencies with v before their retention is extended
func WithVerifier(v retention.DockerVerifier) Option {
	return func(s *Session) {
		s.verifier = v
	}
}

// New validates cfg and returns a Session publishing to st
func New(cfg Config, st store.Store, logger logrus.Ext1FieldLogger, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Layout == "" {
		cfg.Layout = consts.DefaultLayout
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = consts.MaxWorkers
	}

	s := &Session{
		cfg:    cfg,
		store:  st,
		logger: logger,
		state:  StateBootstrap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns how far the session got
func (s *Session) State() State {
	return s.state
}

// upload is a planned file and where it goes
type upload struct {
	entry planner.Entry
	dst   string
	// dep is finalized and added to the manifest once the file is uploaded
	dep *manifest.GenericFile
}

// Run executes the session. The local manifest, if any, stays locked until Run returns.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.logger.Tracef("Session configuration:\n%s", spew.Sdump(s.cfg))

	now := s.cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Second)

	target, err := s.target()
	if err != nil {
		return nil, err
	}
	result := &Result{Target: target}

	// Bootstrap -> Loaded
	var local *LocalManifest
	if s.cfg.Mode == ModeIncremental || s.cfg.Mode == ModeFinal {
		s.logger.Debugf("Waiting for the lock on %s", s.cfg.LocalManifest)
		local, err = OpenLocalManifest(s.cfg.LocalManifest, s.cfg.Mode == ModeIncremental)
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Reason: fmt.Sprintf("no local manifest %s to finalize", s.cfg.LocalManifest)}
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := local.Close(); err != nil {
				s.logger.Warnf("%v", err)
			}
		}()
	}

	m, err := s.load(local, now)
	if err != nil {
		return nil, err
	}
	result.Manifest = m
	keepUntil := m.Retention.KeepUntil(m.BuildInfo.Timestamp)
	s.state = StateLoaded

	// Loaded -> FilesPlanned
	uploads, err := s.planUploads(m, target)
	if err != nil {
		return nil, err
	}
	s.mergeDepFiles(m)
	s.state = StateFilesPlanned

	// FilesPlanned -> Uploaded
	uploaded, skipped, err := s.uploadAll(ctx, uploads, keepUntil)
	result.Uploaded, result.Skipped = uploaded, skipped
	if err != nil {
		return result, err
	}
	for _, u := range uploads {
		if u.dep != nil {
			u.dep.LocalPath = ""
			m.AddDependency(u.dep)
		}
	}
	s.state = StateUploaded
	result.State = s.state

	switch s.cfg.Mode {
	case ModeIncremental:
		if err := local.Save(m); err != nil {
			return result, err
		}
		s.logger.Infof("Recorded %d files in %s", len(m.Files), local.Path())
		s.metrics.RunSucceeded()
		return result, nil
	case ModeNoManifest:
		s.state = StateDone
		result.State = s.state
		s.metrics.RunSucceeded()
		return result, nil
	}

	// Uploaded -> ManifestPublished
	if err := s.publishManifest(ctx, m, target, keepUntil); err != nil {
		return result, err
	}
	s.state = StateManifestPublished
	result.State = s.state

	propagator := retention.New(s.store, s.logger, retention.Options{
		KeepUntil: keepUntil,
		Verifier:  s.verifier,
		Metrics:   s.metrics,
	})
	if err := propagator.Propagate(ctx, m.Dependencies); err != nil {
		return result, fmt.Errorf("failed to extend retention of dependencies: %w", err)
	}

	if s.cfg.Mode == ModeFinal {
		if err := local.Remove(); err != nil {
			return result, err
		}
	}
	s.state = StateDone
	result.State = s.state
	s.metrics.RunSucceeded()
	return result, nil
}

func (s *Session) target() (string, error) {
	org, repo, err := buildinfo.ParseRepoURL(s.cfg.Identity.RepoURL)
	if err != nil {
		return "", &ConfigError{Reason: err.Error()}
	}
	target, err := render.NewRenderer(s.cfg.Layout).Render(&render.TemplatingData{
		Data: &render.LayoutData{
			Root:    s.cfg.Root,
			Org:     org,
			Repo:    repo,
			Branch:  s.cfg.Identity.Branch,
			BuildNo: s.cfg.Identity.BuildNo,
		},
	})
	if err != nil {
		return "", &ConfigError{Reason: err.Error()}
	}
	return target, nil
}

// load returns the manifest the session works on: the one in the local file
// if there is one, otherwise a new one.
func (s *Session) load(local *LocalManifest, now time.Time) (*manifest.Manifest, error) {
	fresh := manifest.New(manifest.BuildInfo{
		Repo:      s.cfg.Identity.RepoURL,
		Branch:    s.cfg.Identity.Branch,
		BuildNo:   s.cfg.Identity.BuildNo,
		GitSHA:    s.cfg.Identity.GitSHA,
		Timestamp: now,
	}, s.cfg.Days)
	if local == nil {
		return fresh, nil
	}

	loaded, ok, err := local.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.cfg.Mode == ModeFinal {
			return nil, &ConfigError{Reason: fmt.Sprintf("local manifest %s is empty", local.Path())}
		}
		s.logger.Infof("Starting a new manifest in %s", local.Path())
		return fresh, nil
	}

	if diffs := identityDiffs(loaded, fresh); len(diffs) > 0 {
		return nil, &IdentityMismatchError{Path: local.Path(), Diffs: diffs}
	}
	s.logger.Infof("Resuming manifest %s with %d files and %d dependencies", local.Path(), len(loaded.Files), len(loaded.Dependencies))
	return loaded, nil
}

func identityDiffs(loaded *manifest.Manifest, current *manifest.Manifest) []FieldDiff {
	var diffs []FieldDiff
	compare := func(field string, l string, c string) {
		if l != c {
			diffs = append(diffs, FieldDiff{Field: field, Loaded: l, Current: c})
		}
	}
	compare("repo", loaded.BuildInfo.Repo, current.BuildInfo.Repo)
	compare("branch", loaded.BuildInfo.Branch, current.BuildInfo.Branch)
	compare("build-no", loaded.BuildInfo.BuildNo, current.BuildInfo.BuildNo)
	compare("git-sha", loaded.BuildInfo.GitSHA, current.BuildInfo.GitSHA)
	compare("initial-retention-time-days",
		strconv.FormatFloat(loaded.Retention.InitialRetentionDays, 'g', -1, 64),
		strconv.FormatFloat(current.Retention.InitialRetentionDays, 'g', -1, 64))
	return diffs
}

// planUploads records the planned files in m and returns the ones that still
// need to be uploaded.
func (s *Session) planUploads(m *manifest.Manifest, target string) ([]upload, error) {
	asDependency := s.cfg.DepGenericFileDst != ""
	entries := planner.New(s.logger).Plan(s.cfg.Paths, s.cfg.PathPopCount, asDependency)

	uploads := make([]upload, 0, len(entries))
	for _, e := range entries {
		if asDependency {
			dst := store.Join(s.cfg.DepGenericFileDst, e.RemotePath)
			uploads = append(uploads, upload{
				entry: e,
				dst:   dst,
				dep:   &manifest.GenericFile{URL: s.store.URL(dst), LocalPath: e.LocalPath},
			})
			continue
		}

		if s.cfg.Mode != ModeNoManifest {
			added, err := m.AddFile(manifest.FileRecord{
				Path:   e.RemotePath,
				CIPath: e.LocalPath,
				MD5:    e.MD5,
				Size:   e.Size,
			})
			if err != nil {
				return nil, err
			}
			if !added {
				s.logger.Debugf("%s is already recorded in the manifest", e.RemotePath)
				continue
			}
		}
		uploads = append(uploads, upload{entry: e, dst: store.Join(target, e.RemotePath)})
	}
	return uploads, nil
}

// mergeDepFiles adds the dependencies listed in the dependency files to m.
// Files that cannot be read or fail validation are skipped.
func (s *Session) mergeDepFiles(m *manifest.Manifest) {
	for _, path := range s.cfg.DepFiles {
		deps, err := manifest.LoadDependencyFile(path)
		if err != nil {
			var schemaErr *manifest.SchemaError
			if errors.As(err, &schemaErr) {
				for _, v := range schemaErr.Violations {
					s.logger.Warnf("%s: %s", path, v)
				}
			}
			s.logger.Warnf("Skipping dependency file %s: %v", path, err)
			continue
		}
		added := 0
		for _, d := range deps {
			if m.AddDependency(d) {
				added++
			}
		}
		s.logger.Infof("Added %d dependencies from %s", added, path)
	}
}

// uploadAll uploads the files in contiguous slices, one task per slice. All
// tasks finish before the first error is returned.
func (s *Session) uploadAll(ctx context.Context, uploads []upload, keepUntil time.Time) (int, int, error) {
	var uploaded, skipped atomic.Int64

	g := errgroup.Group{}
	for _, span := range partition(len(uploads), s.cfg.MaxWorkers) {
		span := span
		g.Go(func() error {
			for _, u := range uploads[span[0]:span[1]] {
				done, err := s.upload(ctx, u, keepUntil)
				if err != nil {
					return err
				}
				if done {
					uploaded.Add(1)
				} else {
					skipped.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return int(uploaded.Load()), int(skipped.Load()), err
}

// partition splits n items into contiguous [start, end) spans of
// ceil(n/workers) items.
func partition(n int, workers int) [][2]int {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	spans := make([][2]int, 0, workers)
	for start := 0; start < n; start += size {
		spans = append(spans, [2]int{start, min(start+size, n)})
	}
	return spans
}

// upload puts one file. It returns false if the file was already present and skipped.
func (s *Session) upload(ctx context.Context, u upload, keepUntil time.Time) (bool, error) {
	exists, err := s.store.Exists(ctx, u.dst)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", u.dst, err)
	}
	if exists {
		if !s.cfg.SkipFilesAlreadyPresent {
			return false, &DuplicateArtifactError{Path: u.dst}
		}
		s.logger.Infof("Skipping %s, already present", u.dst)
		s.metrics.FileSkipped()
		return false, nil
	}

	f, err := os.Open(u.entry.LocalPath)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", u.entry.LocalPath, err)
	}
	defer f.Close()

	s.logger.Infof("Uploading %s to %s", u.entry.LocalPath, u.dst)
	if err := s.store.Put(ctx, u.dst, f, u.entry.Size, u.entry.MD5); err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", u.entry.LocalPath, err)
	}
	s.metrics.FileUploaded(u.entry.Size)

	// dependency uploads are stamped by the retention propagation
	if u.dep == nil {
		if err := s.store.SetProperty(ctx, u.dst, consts.KeepUntilProperty, store.FormatStamp(keepUntil), false); err != nil {
			return false, fmt.Errorf("failed to set keep-until of %s: %w", u.dst, err)
		}
	}
	return true, nil
}

// publishManifest uploads m as the manifest of target. A manifest with
// identical contents that is already published is left as is.
func (s *Session) publishManifest(ctx context.Context, m *manifest.Manifest, target string, keepUntil time.Time) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	path := store.Join(target, consts.ManifestFileName)

	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	if exists {
		published, err := s.store.GetJSON(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to fetch published manifest %s: %w", path, err)
		}
		if !bytes.Equal(published, data) {
			return &DuplicateArtifactError{Path: path}
		}
		s.logger.Infof("Manifest %s is already published", path)

		// a later build may have extended it since
		value, ok, err := s.store.GetProperty(ctx, path, consts.KeepUntilProperty)
		if err != nil {
			return fmt.Errorf("failed to get keep-until of %s: %w", path, err)
		}
		if ok {
			current, err := store.ParseStamp(value)
			if err != nil {
				return fmt.Errorf("failed to get keep-until of %s: %w", path, err)
			}
			if !current.Before(keepUntil) {
				s.logger.Debugf("%s is kept until %s, nothing to do", path, value)
				return nil
			}
		}
	} else {
		sum := md5.Sum(data)
		s.logger.Infof("Publishing manifest %s", path)
		if err := s.store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), hex.EncodeToString(sum[:])); err != nil {
			return fmt.Errorf("failed to upload manifest: %w", err)
		}
	}

	if err := s.store.SetProperty(ctx, path, consts.KeepUntilProperty, store.FormatStamp(keepUntil), false); err != nil {
		return fmt.Errorf("failed to set keep-until of %s: %w", path, err)
	}
	return nil
}
