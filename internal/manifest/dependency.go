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
	"os"

	"sigs.k8s.io/yaml"
)

// Kind is the value of the type discriminator of a dependency
type Kind string

const (
	KindGenericFile   Kind = "generic-file"
	KindBuildArtifact Kind = "build-artifact"
	KindDocker        Kind = "docker"
)

// Dependency is one of *GenericFile, *BuildArtifact or *Docker
type Dependency interface {
	Kind() Kind
}

// GenericFile is a dependency on a single uploaded file
type GenericFile struct {
	URL string
	// LocalPath is only set between planning and uploading the file
	LocalPath string
}

// BuildArtifact is a dependency on another artifact folder containing a manifest
type BuildArtifact struct {
	URL           string
	VersionString string
}

// Docker is a dependency on a docker image pushed to the artifact repository
type Docker struct {
	Tag  string
	SHA  string
	Path string
}

func (*GenericFile) Kind() Kind   { return KindGenericFile }
func (*BuildArtifact) Kind() Kind { return KindBuildArtifact }
func (*Docker) Kind() Kind        { return KindDocker }

// Dependencies is the dependency list of a manifest
type Dependencies []Dependency

type dependencyJSON struct {
	Type Kind `json:"type"`

	DockerTag  string `json:"docker-tag,omitempty"`
	DockerSHA  string `json:"docker-sha,omitempty"`
	DockerPath string `json:"docker-path,omitempty"`

	BuildArtifactURL           string `json:"build-artifact-url,omitempty"`
	BuildArtifactVersionString string `json:"build-artifact-version-string,omitempty"`

	GenericFileURL       string `json:"generic-file-url,omitempty"`
	GenericFileLocalPath string `json:"generic-file-local-path,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (d Dependencies) MarshalJSON() ([]byte, error) {
	out := make([]dependencyJSON, 0, len(d))
	for _, dep := range d {
		switch v := dep.(type) {
		case *GenericFile:
			out = append(out, dependencyJSON{
				Type:                 KindGenericFile,
				GenericFileURL:       v.URL,
				GenericFileLocalPath: v.LocalPath,
			})
		case *BuildArtifact:
			out = append(out, dependencyJSON{
				Type:                       KindBuildArtifact,
				BuildArtifactURL:           v.URL,
				BuildArtifactVersionString: v.VersionString,
			})
		case *Docker:
			out = append(out, dependencyJSON{
				Type:       KindDocker,
				DockerTag:  v.Tag,
				DockerSHA:  v.SHA,
				DockerPath: v.Path,
			})
		default:
			return nil, fmt.Errorf("cannot encode dependency of type %q", dep.Kind())
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Dependencies) UnmarshalJSON(data []byte) error {
	var raw []dependencyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	deps := make(Dependencies, 0, len(raw))
	for i, r := range raw {
		switch r.Type {
		case KindGenericFile:
			deps = append(deps, &GenericFile{URL: r.GenericFileURL, LocalPath: r.GenericFileLocalPath})
		case KindBuildArtifact:
			deps = append(deps, &BuildArtifact{URL: r.BuildArtifactURL, VersionString: r.BuildArtifactVersionString})
		case KindDocker:
			deps = append(deps, &Docker{Tag: r.DockerTag, SHA: r.DockerSHA, Path: r.DockerPath})
		default:
			return fmt.Errorf("dependency %d has unknown type %q", i, r.Type)
		}
	}
	*d = deps
	return nil
}

// ParseDependencies decodes and validates a literal dependency array
func ParseDependencies(doc []byte) (Dependencies, error) {
	if err := ValidateDependencies(doc); err != nil {
		return nil, err
	}

	deps := Dependencies{}
	if err := json.Unmarshal(doc, &deps); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	return deps, nil
}

// LoadDependencyFile reads a dependency array from a JSON or YAML file
func LoadDependencyFile(path string) (Dependencies, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency file: %w", err)
	}

	doc, err := yaml.YAMLToJSON(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dependency file %s: %w", path, err)
	}
	return ParseDependencies(doc)
}

func identityKey(d Dependency) string {
	switch v := d.(type) {
	case *GenericFile:
		return string(KindGenericFile) + "|" + v.URL
	case *BuildArtifact:
		return string(KindBuildArtifact) + "|" + v.URL
	case *Docker:
		return string(KindDocker) + "|" + v.Path + ":" + v.Tag
	default:
		return fmt.Sprintf("%s|%p", d.Kind(), d)
	}
}
