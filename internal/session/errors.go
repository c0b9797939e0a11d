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
)

// ConfigError reports an unusable combination of options or build identity
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// FieldDiff is a build identity field that differs between a loaded
// manifest and the current run
type FieldDiff struct {
	Field   string
	Loaded  string
	Current string
}

// IdentityMismatchError is returned when a local manifest belongs to another build
type IdentityMismatchError struct {
	Path  string
	Diffs []FieldDiff
}

func (e *IdentityMismatchError) Error() string {
	fields := make([]string, 0, len(e.Diffs))
	for _, d := range e.Diffs {
		fields = append(fields, d.Field)
	}
	return fmt.Sprintf("manifest %s belongs to a different build: %s differ", e.Path, strings.Join(fields, ", "))
}

// DuplicateArtifactError is returned when an upload target already exists
type DuplicateArtifactError struct {
	Path string
}

func (e *DuplicateArtifactError) Error() string {
	return fmt.Sprintf("%s already exists in the repository", e.Path)
}
