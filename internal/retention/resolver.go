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

	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

// Resolver fetches the dependency lists of published manifests
type Resolver struct {
	store store.Store
}

// NewResolver returns a Resolver reading manifests from s
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// FetchDependencies returns the dependencies of the manifest at manifestPath.
// The manifest must pass schema validation.
func (r *Resolver) FetchDependencies(ctx context.Context, manifestPath string) (manifest.Dependencies, error) {
	doc, err := r.store.GetJSON(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", manifestPath, err)
	}

	m, err := manifest.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
	}
	return m.Dependencies, nil
}
