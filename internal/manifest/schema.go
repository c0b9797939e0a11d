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
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// rootField is how gojsonschema names the document root
const rootField = "(root)"

//go:embed manifest.schema.json
var schemaJSON []byte

// Violation is a single schema violation
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// SchemaError is returned when a document does not match the manifest schema
type SchemaError struct {
	Violations []Violation
}

func (e *SchemaError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("schema validation failed with %d violation(s): %s", len(e.Violations), strings.Join(msgs, "; "))
}

var loadSchemas = sync.OnceValues(func() (*schemas, error) {
	manifestSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	// The dependency-array schema is the manifest's "dependencies" property
	// with the shared definitions carried along.
	var root map[string]interface{}
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil, fmt.Errorf("failed to decode manifest schema: %w", err)
	}
	properties, _ := root["properties"].(map[string]interface{})
	dependencies, ok := properties["dependencies"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("manifest schema has no dependencies property")
	}
	sub := map[string]interface{}{
		"$schema":     root["$schema"],
		"definitions": root["definitions"],
	}
	for k, v := range dependencies {
		sub[k] = v
	}
	dependencySchema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(sub))
	if err != nil {
		return nil, fmt.Errorf("failed to compile dependency schema: %w", err)
	}

	return &schemas{manifest: manifestSchema, dependencies: dependencySchema}, nil
})

type schemas struct {
	manifest     *gojsonschema.Schema
	dependencies *gojsonschema.Schema
}

// Validate checks doc against the manifest schema. On top of the schema,
// the paths of all files must be unique.
func Validate(doc []byte) error {
	s, err := loadSchemas()
	if err != nil {
		return err
	}

	violations, err := validate(s.manifest, doc, "")
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		violations = duplicatePaths(doc)
	}
	if len(violations) > 0 {
		return &SchemaError{Violations: violations}
	}
	return nil
}

// ValidateDependencies checks doc against the dependency array schema
func ValidateDependencies(doc []byte) error {
	s, err := loadSchemas()
	if err != nil {
		return err
	}

	violations, err := validate(s.dependencies, doc, "dependencies")
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &SchemaError{Violations: violations}
	}
	return nil
}

func validate(schema *gojsonschema.Schema, doc []byte, root string) ([]Violation, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	var violations []Violation
	for _, e := range result.Errors() {
		violations = append(violations, Violation{
			Path:    fieldPath(root, e.Field()),
			Message: e.Description(),
		})
	}
	return violations, nil
}

func fieldPath(root, field string) string {
	if root == "" {
		return field
	}
	if field == rootField {
		return root
	}
	return root + "." + field
}

func duplicatePaths(doc []byte) []Violation {
	var files struct {
		Files []struct {
			Path string `json:"path"`
		} `json:"files"`
	}
	// the document already passed the schema, so this cannot fail
	if err := json.Unmarshal(doc, &files); err != nil {
		return nil
	}

	var violations []Violation
	seen := map[string]int{}
	for i, f := range files.Files {
		if first, ok := seen[f.Path]; ok {
			violations = append(violations, Violation{
				Path:    fmt.Sprintf("files.%d.path", i),
				Message: fmt.Sprintf("path %q is already used by files.%d", f.Path, first),
			})
			continue
		}
		seen[f.Path] = i
	}
	return violations
}
