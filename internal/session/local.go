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
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/artifact-publish/internal/manifest"
)

// LocalManifest is a manifest file held under an exclusive advisory lock.
// The lock is released by Close, or by the kernel when the process dies.
type LocalManifest struct {
	path string
	file *os.File
}

// OpenLocalManifest opens the manifest file at path and blocks until the
// exclusive lock on it is acquired. With create set a missing file is
// created empty; otherwise it is reported as os.ErrNotExist.
func OpenLocalManifest(path string, create bool) (*LocalManifest, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	for {
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open local manifest: %w", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to lock local manifest %s: %w", path, err)
		}

		// the previous holder may have removed the file while we waited
		current, err := sameFile(f, path)
		if err != nil {
			unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck
			f.Close()
			if errors.Is(err, os.ErrNotExist) && create {
				continue
			}
			return nil, fmt.Errorf("failed to open local manifest: %w", err)
		}
		if !current {
			unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck
			f.Close()
			continue
		}
		return &LocalManifest{path: path, file: f}, nil
	}
}

func sameFile(f *os.File, path string) (bool, error) {
	opened, err := f.Stat()
	if err != nil {
		return false, err
	}
	named, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return os.SameFile(opened, named), nil
}

// Path returns the file name of the manifest
func (l *LocalManifest) Path() string {
	return l.path
}

// Load returns the manifest stored in the file. It returns false if the file is empty.
func (l *LocalManifest) Load() (*manifest.Manifest, bool, error) {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, false, fmt.Errorf("failed to read local manifest %s: %w", l.path, err)
	}
	doc, err := io.ReadAll(l.file)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read local manifest %s: %w", l.path, err)
	}
	if len(doc) == 0 {
		return nil, false, nil
	}

	m, err := manifest.Parse(doc)
	if err != nil {
		return nil, false, fmt.Errorf("invalid local manifest %s: %w", l.path, err)
	}
	return m, true, nil
}

// Save replaces the file contents with m. The file is rewritten in place as
// replacing it would drop the lock.
func (l *LocalManifest) Save(m *manifest.Manifest) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate local manifest %s: %w", l.path, err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write local manifest %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync local manifest %s: %w", l.path, err)
	}
	return nil
}

// Remove deletes the file while the lock is still held
func (l *LocalManifest) Remove() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to remove local manifest: %w", err)
	}
	return nil
}

// Close releases the lock
func (l *LocalManifest) Close() error {
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock local manifest %s: %w", l.path, unlockErr)
	}
	return closeErr
}
