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

package session_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/NVIDIA/artifact-publish/internal/buildinfo"
	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/planner"
	"github.com/NVIDIA/artifact-publish/internal/session"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

const base = "https://artifacts.example.com/artifactory"

var _ = Describe("Publishing a build with dependencies", func() {
	var (
		st   *store.Memory
		work string
		nowA time.Time
	)

	days := func(n int) time.Duration {
		return time.Duration(n) * 24 * time.Hour
	}

	stampOf := func(path string) time.Time {
		value, ok := st.Property(path, consts.KeepUntilProperty)
		ExpectWithOffset(1, ok).To(BeTrue(), "%s has no keep-until", path)
		ts, err := store.ParseStamp(value)
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		return ts
	}

	publish := func(repo string, buildNo string, now time.Time, depFile string, paths ...string) *session.Result {
		cfg := session.Config{
			Paths: paths,
			Identity: buildinfo.Identity{
				RepoURL: "https://github.com/microchip-ung/" + repo + ".git",
				Branch:  "main",
				GitSHA:  "c0ffee",
				BuildNo: buildNo,
			},
			Root:         consts.DefaultRoot,
			Days:         10,
			PathPopCount: len(strings.Split(planner.PopPath(work, 0), "/")),
			Now:          now,
		}
		if depFile != "" {
			cfg.DepFiles = []string{depFile}
		}
		logger, _ := test.NewNullLogger()
		s, err := session.New(cfg, st, logger)
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		result, err := s.Run(context.Background())
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		ExpectWithOffset(1, result.State).To(Equal(session.StateDone))
		return result
	}

	writeFile := func(name string, content string) string {
		path := filepath.Join(work, name)
		ExpectWithOffset(1, os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		st = store.NewMemory(base)
		work = GinkgoT().TempDir()
		nowA = time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
	})

	Context("A depends on build artifact B which depends on generic file C", func() {
		var bManifest, aManifest string

		BeforeEach(func() {
			Expect(st.Put(context.Background(), "third-party/c.tar.gz", strings.NewReader("c"), 1, "")).To(Succeed())

			cDeps := writeFile("c-deps.json", `[{"type": "generic-file", "generic-file-url": "third-party/c.tar.gz"}]`)
			b := publish("lib-b", "7", nowA.Add(-days(3)), cDeps, writeFile("b/lib.so", "b"))
			bManifest = b.Target + "/" + consts.ManifestFileName

			// C is about to expire
			Expect(st.SetProperty(context.Background(), "third-party/c.tar.gz", consts.KeepUntilProperty, store.FormatStamp(nowA), false)).To(Succeed())

			bDeps := writeFile("b-deps.json", `[{"type": "build-artifact", "build-artifact-url": "`+base+"/"+b.Target+`"}]`)
			a := publish("app-a", "12", nowA, bDeps, writeFile("a/app", "a"))
			aManifest = a.Target + "/" + consts.ManifestFileName
		})

		It("Should extend B and C beyond A", func() {
			Expect(stampOf("third-party/c.tar.gz")).To(BeTemporally("==", nowA.Add(days(15))))
			Expect(stampOf(bManifest)).To(BeTemporally("==", nowA.Add(days(15))))
		})

		It("Should stamp A's manifest once with its own retention", func() {
			Expect(aManifest).To(Equal("ci-artifacts/MICROCHIP-UNG/app-a/main/12/manifest.json"))
			Expect(stampOf(aManifest)).To(BeTemporally("==", nowA.Add(days(10))))
			Expect(st.PropertyWrites(aManifest)).To(Equal(1))
		})

		It("Should not write anything when B's build is extended again", func() {
			before := st.PropertyWrites(bManifest)
			cBefore := st.PropertyWrites("third-party/c.tar.gz")

			dep := writeFile("again.json", `[{"type": "build-artifact", "build-artifact-url": "`+strings.TrimSuffix(bManifest, "/manifest.json")+`"}]`)
			publish("app-a", "13", nowA, dep)

			Expect(st.PropertyWrites(bManifest)).To(Equal(before))
			Expect(st.PropertyWrites("third-party/c.tar.gz")).To(Equal(cBefore))
		})
	})
})
