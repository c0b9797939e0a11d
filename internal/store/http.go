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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxErrorBody bounds how much of an error response body is kept in a TransportError
const maxErrorBody = 512

// HTTP is a Store talking to an Artifactory compatible REST API
type HTTP struct {
	base   string
	client *http.Client
	user   string
	token  string
	logger logrus.Ext1FieldLogger
}

// HTTPOption configures an HTTP store
type HTTPOption func(*HTTP)

// WithCredentials authenticates with basic auth when user is set, and with
// token as bearer token otherwise.
func WithCredentials(user string, token string) HTTPOption {
	return func(h *HTTP) {
		h.user = user
		h.token = token
	}
}

// WithClient sets the http client used for all requests
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithLogger sets the logger requests are traced to
func WithLogger(logger logrus.Ext1FieldLogger) HTTPOption {
	return func(h *HTTP) {
		h.logger = logger
	}
}

// NewHTTP returns a store for the repository at base, e.g. https://artifacts.example.com/artifactory
func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:   strings.TrimRight(base, "/"),
		client: http.DefaultClient,
		logger: logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// URL implements Store
func (h *HTTP) URL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return h.base + "/" + strings.TrimLeft(path, "/")
}

// Put implements Store
func (h *HTTP) Put(ctx context.Context, path string, body io.Reader, size int64, md5 string) error {
	u, err := h.objectURL(path)
	if err != nil {
		return err
	}
	req, err := h.newRequest(ctx, http.MethodPut, u, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if md5 != "" {
		req.Header.Set("X-Checksum-Md5", md5)
	}

	resp, err := h.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(req, resp)
}

// Exists implements Store
func (h *HTTP) Exists(ctx context.Context, path string) (bool, error) {
	u, err := h.objectURL(strings.TrimRight(path, "/"))
	if err != nil {
		return false, err
	}
	req, err := h.newRequest(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, err
	}

	resp, err := h.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := checkResponse(req, resp); err != nil {
		return false, err
	}
	return true, nil
}

type storageProperties struct {
	Properties map[string][]string `json:"properties"`
}

// GetProperty implements Store
func (h *HTTP) GetProperty(ctx context.Context, path string, key string) (string, bool, error) {
	u, err := h.storageURL(path)
	if err != nil {
		return "", false, err
	}
	req, err := h.newRequest(ctx, http.MethodGet, u+"?properties="+url.QueryEscape(key), nil)
	if err != nil {
		return "", false, err
	}

	resp, err := h.do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	// the storage API answers 404 both for missing items and items without the property
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if err := checkResponse(req, resp); err != nil {
		return "", false, err
	}

	props := storageProperties{}
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return "", false, fmt.Errorf("failed to decode properties of %s: %w", path, err)
	}
	values := props.Properties[key]
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

// SetProperty implements Store
func (h *HTTP) SetProperty(ctx context.Context, path string, key string, value string, recursive bool) error {
	u, err := h.storageURL(path)
	if err != nil {
		return err
	}
	rec := "0"
	if recursive {
		rec = "1"
	}
	query := "properties=" + url.QueryEscape(key+"="+value) + "&recursive=" + rec
	req, err := h.newRequest(ctx, http.MethodPut, u+"?"+query, nil)
	if err != nil {
		return err
	}

	resp, err := h.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(req, resp)
}

// GetJSON implements Store
func (h *HTTP) GetJSON(ctx context.Context, path string) ([]byte, error) {
	u, err := h.objectURL(path)
	if err != nil {
		return nil, err
	}
	req, err := h.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(req, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	return data, nil
}

func (h *HTTP) objectURL(path string) (string, error) {
	rel, err := Rel(h.base, path)
	if err != nil {
		return "", err
	}
	return h.base + "/" + escapePath(rel), nil
}

func (h *HTTP) storageURL(path string) (string, error) {
	rel, err := Rel(h.base, path)
	if err != nil {
		return "", err
	}
	return h.base + "/api/storage/" + escapePath(strings.TrimRight(rel, "/")), nil
}

func (h *HTTP) newRequest(ctx context.Context, method string, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request for %s: %w", method, u, err)
	}
	switch {
	case h.user != "":
		req.SetBasicAuth(h.user, h.token)
	case h.token != "":
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return req, nil
}

func (h *HTTP) do(req *http.Request) (*http.Response, error) {
	h.logger.Tracef("%s %s", req.Method, req.URL.Redacted())
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

func checkResponse(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
