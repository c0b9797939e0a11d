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

package render_test

import (
	"strings"
	"text/template"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/render"
)

var _ = Describe("Test Renderer via API", func() {
	t := &render.TemplatingData{
		Funcs: nil,
		Data: &render.LayoutData{
			Root:    "ci-artifacts",
			Org:     "microchip",
			Repo:    "mesa",
			Branch:  "main",
			BuildNo: "42",
		},
	}

	Context("Render the default layout", func() {
		It("Should upper case the organization", func() {
			r := render.NewRenderer(consts.DefaultLayout)
			out, err := r.Render(t)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("ci-artifacts/MICROCHIP/mesa/main/42"))
		})
	})

	Context("Render a layout using sprig and custom functions", func() {
		It("Should apply all functions", func() {
			r := render.NewRenderer(`{{ .Root }}/{{ .Repo | title }}/{{ .Branch | pathSafe }}/{{ suffix }}`)
			out, err := r.Render(&render.TemplatingData{
				Funcs: template.FuncMap{"suffix": func() string { return "nightly" }},
				Data: &render.LayoutData{
					Root:   "ci",
					Repo:   "mesa",
					Branch: "feature/new thing",
				},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("ci/Mesa/feature_new_thing/nightly"))
		})
	})

	Context("Render a layout with redundant separators", func() {
		It("Should return a clean relative path", func() {
			r := render.NewRenderer(` /{{ .Root }}//{{ .Repo }}/./{{ .BuildNo }}/ `)
			out, err := r.Render(t)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("ci-artifacts/mesa/42"))
		})
	})

	Context("Render invalid layouts", func() {
		It("Should fail to parse", func() {
			r := render.NewRenderer(`{{ .Root `)
			_, err := r.Render(t)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse"))
		})

		It("Should fail on unknown fields", func() {
			r := render.NewRenderer(`{{ .Root }}/{{ .Project }}`)
			_, err := r.Render(t)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to render"))
		})

		It("Should refuse to leave the repository", func() {
			r := render.NewRenderer(`{{ .Root }}/../{{ .Repo }}`)
			_, err := r.Render(t)
			Expect(err).To(HaveOccurred())
		})

		It("Should refuse an empty location", func() {
			r := render.NewRenderer(`{{ .Root | trimAll "ci-artfs" }}`)
			_, err := r.Render(t)
			Expect(err).To(HaveOccurred())
			Expect(strings.Contains(err.Error(), "empty")).To(BeTrue())
		})
	})
})
