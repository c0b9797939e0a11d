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

package consts

/*
  This package contains constants used throughout the projects and does not fall into a particular package
*/

import "time"

const (
	// SchemaVersion is the manifest schema version written by this tool
	SchemaVersion = 1

	// ManifestFileName is the name of the manifest document inside an artifact folder
	ManifestFileName = "manifest.json"

	// KeepUntilProperty is the remote property holding the earliest garbage-collection time of an object
	KeepUntilProperty = "keep-until"

	// RetentionBuffer is added whenever the keep-until stamp of a dependency is extended
	RetentionBuffer = 5 * 24 * time.Hour

	// MaxWorkers bounds the number of concurrent upload and retention tasks
	MaxWorkers = 100

	// DefaultRetentionDays is used when --days is not given
	DefaultRetentionDays = 30

	// DefaultRoot is the repository folder uploads are placed under when --root is not given
	DefaultRoot = "ci-artifacts"

	// DefaultLayout is the template for the remote target folder of a build
	DefaultLayout = "{{ .Root }}/{{ .Org | upper }}/{{ .Repo }}/{{ .Branch }}/{{ .BuildNo }}"
)

// DockerRepositories maps the port of a docker registry endpoint to the
// artifact repository that backs it.
var DockerRepositories = map[string]string{
	"5000": "docker",
	"5001": "docker-ci",
	"5002": "docker-release",
	"5003": "docker-sandbox",
}
