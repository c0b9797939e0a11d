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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Op names a Store operation for fault injection
type Op string

const (
	OpPut         Op = "put"
	OpExists      Op = "exists"
	OpGetProperty Op = "get-property"
	OpSetProperty Op = "set-property"
	OpGetJSON     Op = "get-json"
)

// FaultFunc returns a non-nil error to make operation op on path fail
type FaultFunc func(op Op, path string) error

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	base string

	mu             sync.Mutex
	objects        map[string][]byte
	properties     map[string]map[string]string
	propertyWrites map[string]int
	puts           int
	fault          FaultFunc
}

// NewMemory returns an empty store whose URLs are rooted at base
func NewMemory(base string) *Memory {
	return &Memory{
		base:           strings.TrimRight(base, "/"),
		objects:        map[string][]byte{},
		properties:     map[string]map[string]string{},
		propertyWrites: map[string]int{},
	}
}

// SetFault installs f to be consulted before every operation
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// URL implements Store
func (m *Memory) URL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return m.base + "/" + strings.TrimLeft(path, "/")
}

// Put implements Store
func (m *Memory) Put(ctx context.Context, path string, body io.Reader, size int64, md5 string) error {
	rel, err := m.check(OpPut, path)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body for %s: %w", rel, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s: got %d bytes, expected %d", rel, len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[rel] = data
	m.puts++
	return nil
}

// Exists implements Store
func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	rel, err := m.check(OpExists, path)
	if err != nil {
		return false, err
	}
	rel = strings.TrimRight(rel, "/")

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(rel), nil
}

// GetProperty implements Store
func (m *Memory) GetProperty(ctx context.Context, path string, key string) (string, bool, error) {
	rel, err := m.check(OpGetProperty, path)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.properties[strings.TrimRight(rel, "/")][key]
	return v, ok, nil
}

// SetProperty implements Store
func (m *Memory) SetProperty(ctx context.Context, path string, key string, value string, recursive bool) error {
	rel, err := m.check(OpSetProperty, path)
	if err != nil {
		return err
	}
	rel = strings.TrimRight(rel, "/")

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.existsLocked(rel) {
		return &TransportError{Method: http.MethodPut, URL: m.URL(rel), StatusCode: http.StatusNotFound}
	}
	m.setLocked(rel, key, value)
	if recursive {
		for p := range m.objects {
			if strings.HasPrefix(p, rel+"/") {
				m.setLocked(p, key, value)
			}
		}
	}
	return nil
}

// GetJSON implements Store
func (m *Memory) GetJSON(ctx context.Context, path string) ([]byte, error) {
	rel, err := m.check(OpGetJSON, path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[rel]
	if !ok {
		return nil, &TransportError{Method: http.MethodGet, URL: m.URL(rel), StatusCode: http.StatusNotFound}
	}
	return bytes.Clone(data), nil
}

// Object returns the contents stored at path
func (m *Memory) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[strings.TrimLeft(path, "/")]
	return data, ok
}

// Paths returns the paths of all stored objects in sorted order
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Property returns the value of property key on path
func (m *Memory) Property(path string, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.properties[strings.TrimLeft(path, "/")][key]
	return v, ok
}

// PropertyWrites returns how many times properties of path were written
func (m *Memory) PropertyWrites(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.propertyWrites[strings.TrimLeft(path, "/")]
}

// Puts returns the number of successful uploads
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *Memory) check(op Op, path string) (string, error) {
	rel, err := Rel(m.base, path)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	fault := m.fault
	m.mu.Unlock()
	if fault != nil {
		if err := fault(op, rel); err != nil {
			return "", err
		}
	}
	return rel, nil
}

func (m *Memory) existsLocked(rel string) bool {
	if _, ok := m.objects[rel]; ok {
		return true
	}
	for p := range m.objects {
		if strings.HasPrefix(p, rel+"/") {
			return true
		}
	}
	return false
}

func (m *Memory) setLocked(rel string, key string, value string) {
	props, ok := m.properties[rel]
	if !ok {
		props = map[string]string{}
		m.properties[rel] = props
	}
	props[key] = value
	m.propertyWrites[rel]++
}
