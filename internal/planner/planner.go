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

package planner

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Entry is a local file and the path it is uploaded to
type Entry struct {
	LocalPath  string
	RemotePath string
	MD5        string
	Size       int64
}

// Planner expands files and folders given on the command line into upload entries
type Planner struct {
	logger logrus.FieldLogger
}

// New returns a Planner reporting skipped files as warnings to logger
func New(logger logrus.FieldLogger) *Planner {
	return &Planner{logger: logger}
}

// Plan returns one entry per regular file found below roots. Folders are
// expanded recursively, depth first, including dot-files. The remote path of
// a file is its path with the first popCount components removed. With
// asDependency set, empty files are left out.
//
// Planning is best effort: anything that cannot be read is skipped with a warning.
func (p *Planner) Plan(roots []string, popCount int, asDependency bool) []Entry {
	var entries []Entry
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				p.logger.Warnf("Skipping %s: %v", path, err)
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !d.Type().IsRegular() {
				p.logger.Warnf("Skipping %s: not a regular file", path)
				return nil
			}

			entry, ok := p.plan(path, popCount, asDependency)
			if ok {
				entries = append(entries, entry)
			}
			return nil
		})
	}
	return entries
}

func (p *Planner) plan(path string, popCount int, asDependency bool) (Entry, bool) {
	remote := PopPath(path, popCount)
	if remote == "" {
		p.logger.Warnf("Skipping %s: nothing left of the path after removing %d leading components", path, popCount)
		return Entry{}, false
	}
	if escapes(remote) {
		p.logger.Warnf("Skipping %s: remote path %s leaves the upload folder", path, remote)
		return Entry{}, false
	}

	digest, size, err := digestFile(path)
	if err != nil {
		p.logger.Warnf("Skipping %s: %v", path, err)
		return Entry{}, false
	}
	if asDependency && size == 0 {
		p.logger.Warnf("Skipping %s: empty files are not uploaded as dependencies", path)
		return Entry{}, false
	}

	return Entry{
		LocalPath:  path,
		RemotePath: remote,
		MD5:        digest,
		Size:       size,
	}, true
}

// PopPath removes the first count components of path and returns the rest
// with '/' separators. Empty, "." and leading "/" components are not counted.
func PopPath(path string, count int) string {
	var components []string
	for _, c := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if c == "" || c == "." {
			continue
		}
		components = append(components, c)
	}
	if count < 0 {
		count = 0
	}
	if count >= len(components) {
		return ""
	}
	return strings.Join(components[count:], "/")
}

// escapes reports whether a remote path contains a ".." component
func escapes(remote string) bool {
	for _, c := range strings.Split(remote, "/") {
		if c == ".." {
			return true
		}
	}
	return false
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
