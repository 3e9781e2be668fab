// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"github.com/walteh/tilepack/cmd/tilepack/opts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes the command line args and reports the outcome on stderr
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	logger := zerolog.New(stderr).With().Timestamp().Logger()
	ctx = logger.WithContext(ctx)

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		opts.NewUserLogger(stderr, logger).LogResult("Command failed", err)
	}
	return err
}
