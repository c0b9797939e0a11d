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
	"os"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/artifact-publish/cmd/manifest-tool/retention"
	"github.com/NVIDIA/artifact-publish/cmd/manifest-tool/validate"
	"github.com/NVIDIA/artifact-publish/internal/logging"
)

var version = "0.1.0"

func main() {
	var verbosity int
	diag := &logging.Diagnostics{}
	logger := logging.NewLogger(os.Stderr, 0, diag)

	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	c := cli.NewApp()
	c.Name = "manifest-tool"
	c.Usage = "Check manifests and maintain the retention of published builds"
	c.Version = version

	c.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Increase verbosity. May be repeated",
			Count:   &verbosity,
		},
	}

	c.Before = func(c *cli.Context) error {
		logger.SetLevel(logging.LevelForVerbosity(verbosity))
		return nil
	}

	c.Commands = []*cli.Command{
		validate.NewCommand(logger),
		retention.NewCommand(logger),
	}

	err := c.Run(os.Args)
	if err != nil {
		logger.Errorf("%v", err)
	}
	logger.Infof("%d warning(s), %d error(s)", diag.Warnings(), diag.Errors())
	if err != nil {
		log.Exit(1)
	}
}
