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

package validate

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"sigs.k8s.io/yaml"

	"github.com/NVIDIA/artifact-publish/internal/manifest"
)

type command struct {
	logger *logrus.Logger
}

type options struct {
	input string
}

// NewCommand constructs a validate command with the specified logger
func NewCommand(logger *logrus.Logger) *cli.Command {
	c := command{
		logger: logger,
	}
	return c.build()
}

func (m command) build() *cli.Command {
	// Create the 'validate' command
	validate := cli.Command{
		Name:  "validate",
		Usage: "Validate manifests and dependency files against the manifest schema",
	}

	validate.Subcommands = []*cli.Command{
		m.subcommand("manifest", "Validate a manifest", validateManifest),
		m.subcommand("deps", "Validate a dependency file (JSON or YAML)", validateDeps),
	}

	return &validate
}

func (m command) subcommand(name string, usage string, check func([]byte) error) *cli.Command {
	opts := options{}

	c := cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return m.run(&opts, check)
		},
	}

	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Specify the input file. If this is '-' the file is read from STDIN",
			Value:       "-",
			Destination: &opts.input,
		},
	}

	return &c
}

func (m command) run(opts *options, check func([]byte) error) error {
	contents, err := opts.getContents()
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	err = check(contents)
	var schemaErr *manifest.SchemaError
	if errors.As(err, &schemaErr) {
		for _, v := range schemaErr.Violations {
			m.logger.Errorf("%s", v)
		}
		return fmt.Errorf("%s is not valid", opts.name())
	}
	if err != nil {
		return err
	}

	m.logger.Infof("%s is valid", opts.name())
	return nil
}

func validateManifest(contents []byte) error {
	return manifest.Validate(contents)
}

func validateDeps(contents []byte) error {
	doc, err := yaml.YAMLToJSON(contents)
	if err != nil {
		return fmt.Errorf("failed to decode dependency file: %v", err)
	}
	return manifest.ValidateDependencies(doc)
}

func (o options) name() string {
	if o.input == "-" {
		return "input"
	}
	return o.input
}

func (o options) getContents() ([]byte, error) {
	if o.input == "-" {
		return io.ReadAll(os.Stdin)
	}

	return os.ReadFile(o.input)
}
