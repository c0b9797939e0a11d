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

package render

/*
 Render package renders the remote location a build is published to from a
 layout template and the build identity. Templates are executed with the
 sprig function set; referencing an unknown field is an error.
*/

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Renderer renders a remote target location using provided TemplatingData
type Renderer interface {
	// Render returns the rendered location, relative to the repository base
	Render(data *TemplatingData) (string, error)
}

// LayoutData is the build identity a layout template is rendered with
type LayoutData struct {
	Root    string
	Org     string
	Repo    string
	Branch  string
	BuildNo string
}

// TemplatingData is used by the templating engine to render templates
type TemplatingData struct {
	// Funcs are additional Functions used during the templating process
	Funcs template.FuncMap
	// Data used for the rendering process
	Data interface{}
}

// NewRenderer creates a Renderer for the given layout template
func NewRenderer(layout string) Renderer {
	return &textTemplateRenderer{
		layout: layout,
	}
}

// textTemplateRenderer is an implementation of the Renderer interface using golang builtin text/template package
// as its templating engine
type textTemplateRenderer struct {
	layout string
}

// Render renders the layout and normalizes the result into a relative slash separated path
func (r *textTemplateRenderer) Render(data *TemplatingData) (string, error) {
	tmpl := template.New("layout").Funcs(sprig.TxtFuncMap()).Option("missingkey=error")

	tmpl.Funcs(template.FuncMap{
		// pathSafe turns a value into a single path component
		"pathSafe": func(s string) string {
			return strings.Trim(unsafePathChars.ReplaceAllString(s, "_"), "_")
		},
	})

	if data.Funcs != nil {
		tmpl.Funcs(data.Funcs)
	}

	if _, err := tmpl.Parse(r.layout); err != nil {
		return "", fmt.Errorf("failed to parse layout %q: %w", r.layout, err)
	}
	rendered := bytes.Buffer{}

	if err := tmpl.Execute(&rendered, data.Data); err != nil {
		return "", fmt.Errorf("failed to render layout %q: %w", r.layout, err)
	}

	out := strings.TrimSpace(rendered.String())
	for _, elem := range strings.Split(out, "/") {
		if elem == ".." {
			return "", fmt.Errorf("layout %q rendered %q which leaves the repository", r.layout, out)
		}
	}
	out = strings.Trim(path.Clean("/"+out), "/")
	if out == "" {
		return "", fmt.Errorf("layout %q rendered an empty location", r.layout)
	}
	return out, nil
}
