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

package image

import (
	"context"
	"fmt"
	"net"

	"github.com/regclient/regclient"
	"github.com/regclient/regclient/types/ref"

	"github.com/NVIDIA/artifact-publish/internal/consts"
	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

// UnknownPortError is returned for a docker dependency pushed through a
// registry port that is not backed by a known artifact repository
type UnknownPortError struct {
	Path string
	Port string
}

func (e *UnknownPortError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("docker path %q does not name a registry port", e.Path)
	}
	return fmt.Sprintf("docker path %q uses unknown registry port %s", e.Path, e.Port)
}

// Location is where the manifest of a docker image is kept in the artifact repository
type Location struct {
	// Registry is the host:port the image is pushed to
	Registry string
	// Repository is the artifact repository backing the registry port
	Repository string
	// Image is the image path within the registry
	Image string
	Tag   string
}

// ManifestPath returns the repository path of the image manifest
func (l Location) ManifestPath() string {
	return store.Join(l.Repository, l.Image, l.Tag, consts.ManifestFileName)
}

// Reference returns the pullable image reference
func (l Location) Reference() string {
	return l.Registry + "/" + l.Image + ":" + l.Tag
}

// Locate derives the repository location of a docker dependency from the
// port of the registry it was pushed to
func Locate(dep *manifest.Docker) (Location, error) {
	r, err := reference(dep)
	if err != nil {
		return Location{}, err
	}

	_, port, err := net.SplitHostPort(r.Registry)
	if err != nil {
		return Location{}, &UnknownPortError{Path: dep.Path}
	}
	repository, ok := consts.DockerRepositories[port]
	if !ok {
		return Location{}, &UnknownPortError{Path: dep.Path, Port: port}
	}

	return Location{
		Registry:   r.Registry,
		Repository: repository,
		Image:      r.Repository,
		Tag:        r.Tag,
	}, nil
}

func reference(dep *manifest.Docker) (ref.Ref, error) {
	r, err := ref.New(dep.Path + ":" + dep.Tag)
	if err != nil {
		return ref.Ref{}, fmt.Errorf("failed to construct an image reference: %v", err)
	}
	return r, nil
}

// Verifier checks docker dependencies against the registry they were pushed to
type Verifier struct {
	client *regclient.RegClient
}

// NewVerifier returns a Verifier using the local docker credentials
func NewVerifier() *Verifier {
	return &Verifier{
		client: regclient.New(regclient.WithDockerCreds(), regclient.WithDockerCerts()),
	}
}

// Verify returns an error unless the registry serves dep.Tag with digest dep.SHA
func (v *Verifier) Verify(ctx context.Context, dep *manifest.Docker) error {
	r, err := reference(dep)
	if err != nil {
		return err
	}

	m, err := v.client.ManifestGet(ctx, r)
	if err != nil {
		return fmt.Errorf("failed to get image manifest: %v", err)
	}

	digest := m.GetDescriptor().Digest.String()
	if digest != dep.SHA {
		return fmt.Errorf("image %s has digest %s, expected %s", r.CommonName(), digest, dep.SHA)
	}
	return nil
}
