// Copyright 2015 The Avalon Authors
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

// Command avalon is the reverse proxy's entry point: "avalon run" loads
// a TOML config, wires every component, and serves until a shutdown
// signal; "avalon validate" only parses and validates a config and
// exits, for use in CI or a pre-deploy hook. Grounded on cmd/cobra.go's
// root-command shape, generalized from its many caddycmd subcommands
// down to the two this proxy needs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var exit *exitError
		if asExitError(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "avalon",
		Short:         "Avalon is a configuration-driven reverse HTTP/HTTPS proxy with automatic TLS.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newValidateCommand())
	return root
}

// exitError carries a specific process exit code (spec.md §6's
// 0/1/2/3 scheme) out of a cobra RunE without cobra itself printing
// a second copy of the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exiting with status %d", e.code)
	}
	return e.err.Error()
}

func asExitError(err error, target **exitError) bool {
	if ee, ok := err.(*exitError); ok {
		*target = ee
		return true
	}
	return false
}
