/*
 * Copyright (c), NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/artifact-publish/internal/manifest"
	"github.com/NVIDIA/artifact-publish/internal/session"
	"github.com/NVIDIA/artifact-publish/internal/store"
)

// report logs err together with the details a user needs to act on it
func report(logger log.FieldLogger, err error) {
	var (
		schemaErr    *manifest.SchemaError
		mismatchErr  *session.IdentityMismatchError
		transportErr *store.TransportError
	)

	switch {
	case errors.As(err, &schemaErr):
		for _, v := range schemaErr.Violations {
			logger.Errorf("  %s", v)
		}
	case errors.As(err, &mismatchErr):
		for _, d := range mismatchErr.Diffs {
			logger.Errorf("  %s: %q in %s, %q in this run", d.Field, d.Loaded, mismatchErr.Path, d.Current)
		}
	case errors.As(err, &transportErr):
		logger.Errorf("  repository answered %d for %s %s", transportErr.StatusCode, transportErr.Method, transportErr.URL)
	}
	logger.Errorf("%v", err)
}
