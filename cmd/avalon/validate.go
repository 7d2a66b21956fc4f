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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neomody77/avalon-sub001/avconfig"
)

func newValidateCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a config file without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", avconfig.DefaultPath, "path to the TOML config file")
	return cmd
}

// runValidate loads and validates path, printing a diagnostic and
// exiting 3 on any problem per spec.md §6's exit-code scheme, 0 on
// success.
func runValidate(path string) error {
	cfg, err := avconfig.Load(path)
	if err != nil {
		fmt.Println("config invalid:", err)
		return &exitError{code: 3, err: err}
	}
	if _, err := cfg.BuildPools(); err != nil {
		fmt.Println("config invalid:", err)
		return &exitError{code: 3, err: err}
	}
	if _, err := cfg.BuildTable(0); err != nil {
		fmt.Println("config invalid:", err)
		return &exitError{code: 3, err: err}
	}
	fmt.Println("config OK:", path)
	return nil
}
