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

package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/image"
	"github.com/NVIDIA/artifact-publish/internal/logging"
	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/metrics"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

// UnknownDependencyTypeError is returned for a dependency the propagator
// cannot reason about
type UnknownDependencyTypeError struct {
	Type manifest.Kind
}

func (e *UnknownDependencyTypeError) Error() string {
	return fmt.Sprintf("unknown dependency type %q", e.Type)
}

// DockerVerifier checks a docker dependency before its retention is extended
type DockerVerifier interface {
	Verify(ctx context.Context, dep *manifest.Docker) error
}

// Options configures a Propagator
type Options struct {
	// KeepUntil is the time every dependency must at least be kept until
	KeepUntil time.Time
	// Buffer is added to KeepUntil when a stamp is extended
	Buffer time.Duration
	// Parallelism bounds the number of concurrent leaf updates
	Parallelism int
	// Verifier, if set, is consulted for every docker dependency
	Verifier DockerVerifier
	Metrics  *metrics.Metrics
}

// Propagator extends the keep-until stamps of all transitive dependencies of
// a manifest so that nothing a live build depends on expires before it.
//
// A Propagator is meant for a single run: build artifacts visited once are
// not visited again.
type Propagator struct {
	store    store.Store
	resolver *Resolver
	logger   logrus.FieldLogger
	opts     Options

	visited sets.Set[string]
}

// New returns a Propagator updating stamps in s
func New(s store.Store, logger logrus.FieldLogger, opts Options) *Propagator {
	if opts.Buffer == 0 {
		opts.Buffer = consts.RetentionBuffer
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = consts.MaxWorkers
	}
	return &Propagator{
		store:    s,
		resolver: NewResolver(s),
		logger:   logger,
		opts:     opts,
		visited:  sets.New[string](),
	}
}

// Target returns the keep-until value written when a stamp is extended
func (p *Propagator) Target() time.Time {
	return p.opts.KeepUntil.Add(p.opts.Buffer)
}

// Propagate ensures every dependency in deps, and everything they depend on,
// is kept at least until KeepUntil. Any failure aborts the propagation.
func (p *Propagator) Propagate(ctx context.Context, deps manifest.Dependencies) error {
	return p.propagate(ctx, deps, 0)
}

// leaf is a stamped location that is not traversed any further
type leaf struct {
	kind manifest.Kind
	path string
}

func (p *Propagator) propagate(ctx context.Context, deps manifest.Dependencies, depth int) error {
	var (
		files   []leaf
		builds  []*manifest.BuildArtifact
		dockers []*manifest.Docker
		images  []leaf
	)
	// the whole list is classified before anything is written, so a list
	// that cannot be handled leaves the repository untouched
	for _, d := range deps {
		switch v := d.(type) {
		case *manifest.GenericFile:
			files = append(files, leaf{kind: manifest.KindGenericFile, path: v.URL})
		case *manifest.BuildArtifact:
			builds = append(builds, v)
		case *manifest.Docker:
			loc, err := image.Locate(v)
			if err != nil {
				return err
			}
			dockers = append(dockers, v)
			images = append(images, leaf{kind: manifest.KindDocker, path: loc.ManifestPath()})
		default:
			return &UnknownDependencyTypeError{Type: d.Kind()}
		}
	}

	if err := p.extendLeaves(ctx, files, depth); err != nil {
		return err
	}

	// build artifacts are walked one after the other to bound the load a
	// deep graph puts on the repository
	for _, b := range builds {
		if err := p.extendBuildArtifact(ctx, b, depth); err != nil {
			return err
		}
	}

	if p.opts.Verifier != nil {
		for _, d := range dockers {
			if err := p.opts.Verifier.Verify(ctx, d); err != nil {
				return fmt.Errorf("failed to verify docker image %s:%s: %w", d.Path, d.Tag, err)
			}
		}
	}
	return p.extendLeaves(ctx, images, depth)
}

// extendLeaves updates all leaves concurrently. All updates run to
// completion; the first error is returned.
func (p *Propagator) extendLeaves(ctx context.Context, leaves []leaf, depth int) error {
	g := errgroup.Group{}
	g.SetLimit(p.opts.Parallelism)
	for _, l := range leaves {
		l := l
		g.Go(func() error {
			expired, err := p.expired(ctx, l.kind, l.path, depth)
			if err != nil || !expired {
				return err
			}
			return p.stamp(ctx, l.kind, l.path, depth)
		})
	}
	return g.Wait()
}

// extendBuildArtifact recurses into the dependencies of a build artifact
// whose stamp has expired. The artifact's own stamp is only written after
// all of its dependencies were extended, so an interrupted run leaves it
// expired and the next run walks it again.
func (p *Propagator) extendBuildArtifact(ctx context.Context, dep *manifest.BuildArtifact, depth int) error {
	manifestPath := store.Join(dep.URL, consts.ManifestFileName)
	log := p.logger.WithField(logging.DepthField, depth)

	key := p.store.URL(manifestPath)
	if p.visited.Has(key) {
		log.Debugf("%s was already visited", manifestPath)
		return nil
	}
	p.visited.Insert(key)

	expired, err := p.expired(ctx, manifest.KindBuildArtifact, manifestPath, depth)
	if err != nil || !expired {
		return err
	}

	deps, err := p.resolver.FetchDependencies(ctx, manifestPath)
	if err != nil {
		return err
	}
	log.Debugf("Walking %d dependencies of %s", len(deps), manifestPath)
	if err := p.propagate(ctx, deps, depth+1); err != nil {
		return err
	}

	return p.stamp(ctx, manifest.KindBuildArtifact, manifestPath, depth)
}

// expired reports whether the stamp of path is before KeepUntil. A missing
// stamp counts as expired.
func (p *Propagator) expired(ctx context.Context, kind manifest.Kind, path string, depth int) (bool, error) {
	p.opts.Metrics.RetentionChecked(string(kind))

	value, ok, err := p.store.GetProperty(ctx, path, consts.KeepUntilProperty)
	if err != nil {
		return false, fmt.Errorf("failed to get keep-until of %s: %w", path, err)
	}

	log := p.logger.WithField(logging.DepthField, depth)
	if !ok {
		log.Debugf("%s has no keep-until", path)
		return true, nil
	}
	current, err := store.ParseStamp(value)
	if err != nil {
		return false, fmt.Errorf("failed to get keep-until of %s: %w", path, err)
	}
	if current.Before(p.opts.KeepUntil) {
		log.Debugf("%s is kept until %s", path, store.FormatStamp(current))
		return true, nil
	}

	log.Debugf("%s is kept until %s, nothing to do", path, store.FormatStamp(current))
	return false, nil
}

func (p *Propagator) stamp(ctx context.Context, kind manifest.Kind, path string, depth int) error {
	target := store.FormatStamp(p.Target())
	p.logger.WithField(logging.DepthField, depth).Infof("Extending keep-until of %s to %s", path, target)

	if err := p.store.SetProperty(ctx, path, consts.KeepUntilProperty, target, false); err != nil {
		return fmt.Errorf("failed to set keep-until of %s: %w", path, err)
	}
	p.opts.Metrics.RetentionExtended(string(kind))
	return nil
}
