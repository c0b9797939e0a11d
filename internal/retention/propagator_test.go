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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/image"
	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

const testBase = "https://artifacts.example.com/artifactory"

var (
	testKeepUntil = time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	testTarget    = testKeepUntil.Add(consts.RetentionBuffer)
)

type fixture struct {
	store *store.Memory

	mu     sync.Mutex
	writes []string
	failOn map[string]error
}

func newFixture() *fixture {
	f := &fixture{
		store:  store.NewMemory(testBase),
		failOn: map[string]error{},
	}
	f.store.SetFault(func(op store.Op, path string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err, ok := f.failOn[string(op)+" "+path]; ok {
			return err
		}
		if op == store.OpSetProperty {
			f.writes = append(f.writes, path)
		}
		return nil
	})
	return f
}

func (f *fixture) fail(op store.Op, path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[string(op)+" "+path] = err
}

func (f *fixture) clearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = map[string]error{}
}

func (f *fixture) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fixture) resetWriteLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// put stores an object and stamps it unless stamp is zero
func (f *fixture) put(t *testing.T, path string, data []byte, stamp time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), ""))
	if !stamp.IsZero() {
		require.NoError(t, f.store.SetProperty(ctx, path, consts.KeepUntilProperty, store.FormatStamp(stamp), false))
	}
	f.resetWriteLog()
}

func (f *fixture) putManifest(t *testing.T, folder string, stamp time.Time, deps ...manifest.Dependency) string {
	t.Helper()
	m := manifest.New(manifest.BuildInfo{
		Repo:      "github.com/example/" + folder,
		Branch:    "main",
		BuildNo:   "1",
		GitSHA:    "abc",
		Timestamp: testKeepUntil.Add(-10 * 24 * time.Hour),
	}, 10)
	for _, d := range deps {
		m.AddDependency(d)
	}
	data, err := m.Serialize()
	require.NoError(t, err)
	path := store.Join(folder, consts.ManifestFileName)
	f.put(t, path, data, stamp)
	return path
}

func (f *fixture) stamp(t *testing.T, path string) time.Time {
	t.Helper()
	value, ok := f.store.Property(path, consts.KeepUntilProperty)
	if !ok {
		return time.Time{}
	}
	ts, err := store.ParseStamp(value)
	require.NoError(t, err)
	return ts
}

func newTestPropagator(f *fixture) *Propagator {
	logger, _ := test.NewNullLogger()
	return New(f.store, logger, Options{KeepUntil: testKeepUntil, Parallelism: 4})
}

type bogusDependency struct{}

func (bogusDependency) Kind() manifest.Kind { return "tarball" }

type fakeVerifier struct {
	err      error
	verified []string
}

func (v *fakeVerifier) Verify(ctx context.Context, dep *manifest.Docker) error {
	v.verified = append(v.verified, dep.Path+":"+dep.Tag)
	return v.err
}

func TestGenericFileStamps(t *testing.T) {
	tests := []struct {
		name     string
		stamp    time.Time
		extended bool
	}{
		{name: "no stamp", stamp: time.Time{}, extended: true},
		{name: "expires before keep-until", stamp: testKeepUntil.Add(-time.Hour), extended: true},
		{name: "expires at keep-until", stamp: testKeepUntil, extended: false},
		{name: "expires after keep-until", stamp: testKeepUntil.Add(24 * time.Hour), extended: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.put(t, "deps/toolchain.tar.gz", []byte("tc"), tc.stamp)

			p := newTestPropagator(f)
			err := p.Propagate(context.Background(), manifest.Dependencies{
				&manifest.GenericFile{URL: testBase + "/deps/toolchain.tar.gz"},
			})
			require.NoError(t, err)

			if tc.extended {
				assert.Equal(t, []string{"deps/toolchain.tar.gz"}, f.writeLog())
				assert.True(t, f.stamp(t, "deps/toolchain.tar.gz").Equal(testTarget))
			} else {
				assert.Empty(t, f.writeLog())
				assert.True(t, f.stamp(t, "deps/toolchain.tar.gz").Equal(tc.stamp))
			}
		})
	}
}

func buildGraph(t *testing.T, f *fixture) (manifest.Dependencies, map[string]time.Time) {
	t.Helper()
	expired := testKeepUntil.Add(-24 * time.Hour)
	fresh := testKeepUntil.Add(48 * time.Hour)

	f.put(t, "deps/a.bin", []byte("a"), expired)
	f.put(t, "deps/b.bin", []byte("b"), fresh)
	f.put(t, "ci/C/lib.so", []byte("c"), expired)
	f.put(t, "docker-ci/sdk/build-env/1.0/manifest.json", []byte("{}"), time.Time{})
	f.putManifest(t, "ci/C", expired,
		&manifest.GenericFile{URL: "ci/C/lib.so"},
	)
	f.putManifest(t, "ci/B", expired,
		&manifest.BuildArtifact{URL: testBase + "/ci/C"},
		&manifest.Docker{Path: "registry.example.com:5001/sdk/build-env", Tag: "1.0", SHA: "sha256:1"},
		&manifest.GenericFile{URL: "deps/b.bin"},
	)

	pre := map[string]time.Time{
		"deps/a.bin":         expired,
		"deps/b.bin":         fresh,
		"ci/C/lib.so":        expired,
		"ci/C/manifest.json": expired,
		"ci/B/manifest.json": expired,
		"docker-ci/sdk/build-env/1.0/manifest.json": {},
	}
	deps := manifest.Dependencies{
		&manifest.GenericFile{URL: "deps/a.bin"},
		&manifest.BuildArtifact{URL: "ci/B"},
		&manifest.GenericFile{URL: testBase + "/deps/b.bin"},
	}
	return deps, pre
}

func TestPropagateGraph(t *testing.T) {
	f := newFixture()
	deps, pre := buildGraph(t, f)

	err := newTestPropagator(f).Propagate(context.Background(), deps)
	require.NoError(t, err)

	for path, before := range pre {
		after := f.stamp(t, path)
		assert.False(t, after.Before(before), "%s moved backwards", path)
		assert.False(t, after.Before(testKeepUntil), "%s expires before keep-until", path)
		if before.Before(testKeepUntil) {
			assert.True(t, after.Equal(testTarget), "%s was not extended to the target", path)
		} else {
			assert.True(t, after.Equal(before), "%s should not have been touched", path)
		}
	}

	// children are stamped before the build artifact that depends on them
	writes := f.writeLog()
	assert.Less(t, indexOf(writes, "ci/C/lib.so"), indexOf(writes, "ci/C/manifest.json"))
	assert.Less(t, indexOf(writes, "ci/C/manifest.json"), indexOf(writes, "ci/B/manifest.json"))
	assert.Less(t, indexOf(writes, "docker-ci/sdk/build-env/1.0/manifest.json"), indexOf(writes, "ci/B/manifest.json"))
	assert.NotContains(t, writes, "deps/b.bin")
}

func TestPropagateIsIdempotent(t *testing.T) {
	f := newFixture()
	deps, _ := buildGraph(t, f)

	require.NoError(t, newTestPropagator(f).Propagate(context.Background(), deps))
	assert.NotEmpty(t, f.writeLog())
	f.resetWriteLog()

	require.NoError(t, newTestPropagator(f).Propagate(context.Background(), deps))
	assert.Empty(t, f.writeLog())
}

func TestFailedChildLeavesParentExpired(t *testing.T) {
	f := newFixture()
	deps, pre := buildGraph(t, f)
	injected := errors.New("connection reset by peer")
	f.fail(store.OpSetProperty, "ci/C/lib.so", injected)

	err := newTestPropagator(f).Propagate(context.Background(), deps)
	require.ErrorIs(t, err, injected)

	assert.True(t, f.stamp(t, "ci/C/manifest.json").Equal(pre["ci/C/manifest.json"]))
	assert.True(t, f.stamp(t, "ci/B/manifest.json").Equal(pre["ci/B/manifest.json"]))
	assert.NotContains(t, f.writeLog(), "ci/B/manifest.json")
	assert.NotContains(t, f.writeLog(), "ci/C/manifest.json")

	// a later run converges
	f.clearFaults()
	require.NoError(t, newTestPropagator(f).Propagate(context.Background(), deps))
	assert.True(t, f.stamp(t, "ci/B/manifest.json").Equal(testTarget))
	assert.True(t, f.stamp(t, "ci/C/lib.so").Equal(testTarget))
}

func TestMissingChildManifestAborts(t *testing.T) {
	f := newFixture()
	f.put(t, "ci/B/readme.txt", []byte("no manifest here"), testKeepUntil.Add(-time.Hour))

	err := newTestPropagator(f).Propagate(context.Background(), manifest.Dependencies{
		&manifest.BuildArtifact{URL: "ci/B"},
	})
	var transportErr *store.TransportError
	require.True(t, errors.As(err, &transportErr), "unexpected error %v", err)
	assert.Empty(t, f.writeLog())
}

func TestInvalidChildManifestAborts(t *testing.T) {
	f := newFixture()
	f.put(t, "ci/B/manifest.json", []byte(`{"schema-version": 1}`), time.Time{})

	err := newTestPropagator(f).Propagate(context.Background(), manifest.Dependencies{
		&manifest.BuildArtifact{URL: "ci/B"},
	})
	var schemaErr *manifest.SchemaError
	require.True(t, errors.As(err, &schemaErr), "unexpected error %v", err)
	assert.Empty(t, f.writeLog())
}

func TestUnknownDependencyTypeAborts(t *testing.T) {
	f := newFixture()
	f.put(t, "deps/a.bin", []byte("a"), time.Time{})

	err := newTestPropagator(f).Propagate(context.Background(), manifest.Dependencies{
		&manifest.GenericFile{URL: "deps/a.bin"},
		bogusDependency{},
	})
	var typeErr *UnknownDependencyTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, manifest.Kind("tarball"), typeErr.Type)
	assert.Empty(t, f.writeLog())
}

func TestDockerUnknownPortAborts(t *testing.T) {
	f := newFixture()
	f.put(t, "deps/a.bin", []byte("a"), time.Time{})

	err := newTestPropagator(f).Propagate(context.Background(), manifest.Dependencies{
		&manifest.GenericFile{URL: "deps/a.bin"},
		&manifest.Docker{Path: "registry.example.com:9999/sdk/img", Tag: "1", SHA: "sha256:1"},
	})
	var portErr *image.UnknownPortError
	require.True(t, errors.As(err, &portErr))
	assert.Empty(t, f.writeLog())
}

func TestDockerVerification(t *testing.T) {
	f := newFixture()
	f.put(t, "docker-ci/sdk/img/1/manifest.json", []byte("{}"), time.Time{})
	deps := manifest.Dependencies{
		&manifest.Docker{Path: "registry.example.com:5001/sdk/img", Tag: "1", SHA: "sha256:1"},
	}
	logger, _ := test.NewNullLogger()

	verifier := &fakeVerifier{err: fmt.Errorf("digest mismatch")}
	p := New(f.store, logger, Options{KeepUntil: testKeepUntil, Verifier: verifier})
	require.Error(t, p.Propagate(context.Background(), deps))
	assert.Equal(t, []string{"registry.example.com:5001/sdk/img:1"}, verifier.verified)
	assert.Empty(t, f.writeLog())

	verifier = &fakeVerifier{}
	p = New(f.store, logger, Options{KeepUntil: testKeepUntil, Verifier: verifier})
	require.NoError(t, p.Propagate(context.Background(), deps))
	assert.Equal(t, []string{"docker-ci/sdk/img/1/manifest.json"}, f.writeLog())
}

func TestCyclicGraphTerminates(t *testing.T) {
	f := newFixture()
	expired := testKeepUntil.Add(-time.Hour)
	f.putManifest(t, "ci/A", expired, &manifest.BuildArtifact{URL: "ci/B"})
	f.putManifest(t, "ci/B", expired, &manifest.BuildArtifact{URL: testBase + "/ci/A"})

	err := newTestPropagator(f).Propagate(context.Background(), manifest.Dependencies{
		&manifest.BuildArtifact{URL: "ci/A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ci/B/manifest.json", "ci/A/manifest.json"}, f.writeLog())
}

func TestGenericBatchCompletesBeforeFailing(t *testing.T) {
	f := newFixture()
	var deps manifest.Dependencies
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("deps/%d.bin", i)
		f.put(t, path, []byte("x"), time.Time{})
		deps = append(deps, &manifest.GenericFile{URL: path})
	}
	deps = append(deps, &manifest.BuildArtifact{URL: "ci/never-visited"})
	injected := errors.New("quota exceeded")
	f.fail(store.OpSetProperty, "deps/2.bin", injected)

	err := newTestPropagator(f).Propagate(context.Background(), deps)
	require.ErrorIs(t, err, injected)

	assert.ElementsMatch(t, []string{"deps/0.bin", "deps/1.bin", "deps/3.bin", "deps/4.bin"}, f.writeLog())
}

func TestResolverFetchDependencies(t *testing.T) {
	f := newFixture()
	path := f.putManifest(t, "ci/B", time.Time{},
		&manifest.GenericFile{URL: "deps/a.bin"},
		&manifest.BuildArtifact{URL: "ci/C", VersionString: "2.0"},
	)

	deps, err := NewResolver(f.store).FetchDependencies(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, manifest.Dependencies{
		&manifest.GenericFile{URL: "deps/a.bin"},
		&manifest.BuildArtifact{URL: "ci/C", VersionString: "2.0"},
	}, deps)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
