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

import "fmt"

// State is the progress of a session
type State int

const (
	StateBootstrap State = iota
	StateLoaded
	StateFilesPlanned
	StateUploaded
	StateManifestPublished
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBootstrap:
		return "Bootstrap"
	case StateLoaded:
		return "Loaded"
	case StateFilesPlanned:
		return "FilesPlanned"
	case StateUploaded:
		return "Uploaded"
	case StateManifestPublished:
		return "ManifestPublished"
	case StateDone:
		return "Done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
