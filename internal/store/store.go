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

package store

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Store provides access to the remote artifact repository. Paths are
// relative to the repository base; absolute URLs below the base are accepted
// as well.
type Store interface {
	// Put uploads body to path, overwriting any existing object
	Put(ctx context.Context, path string, body io.Reader, size int64, md5 string) error
	// Exists reports whether an object or folder exists at path
	Exists(ctx context.Context, path string) (bool, error)
	// GetProperty returns the value of property key on path. ok is false if the property is not set.
	GetProperty(ctx context.Context, path string, key string) (value string, ok bool, err error)
	// SetProperty sets property key on path, and on everything below it if recursive is set
	SetProperty(ctx context.Context, path string, key string, value string, recursive bool) error
	// GetJSON returns the contents of the document at path
	GetJSON(ctx context.Context, path string) ([]byte, error)
	// URL returns the absolute URL of path
	URL(path string) string
}

// TransportError is returned for any non-2xx response of the repository
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s failed with status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Rel returns loc relative to base. loc may be relative already, or an
// absolute URL below base.
func Rel(base string, loc string) (string, error) {
	if !strings.Contains(loc, "://") {
		return strings.TrimLeft(loc, "/"), nil
	}
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(loc, prefix) {
		return "", fmt.Errorf("%s is not below the repository base %s", loc, base)
	}
	return strings.TrimPrefix(loc, prefix), nil
}

// Join joins path elements with '/' ignoring empty elements and duplicate separators
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// FormatStamp formats a keep-until time as stored in the repository
func FormatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseStamp parses a keep-until property value
func ParseStamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid keep-until value %q: %w", value, err)
	}
	return t, nil
}
