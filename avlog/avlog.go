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

// Package avlog builds the process-wide zap.Logger, honoring the
// --log-level flag over the AVALON_LOG environment variable, per
// spec.md §6. Grounded on the teacher's root logging.go zap wiring.
package avlog

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvVar is the spec's "RUST_LOG-style" level override, renamed off
// any language-specific term. It is only consulted when --log-level
// was not passed on the command line.
const EnvVar = "AVALON_LOG"

var levels = map[string]zapcore.Level{
	"trace": zapcore.DebugLevel, // zap has no trace level; trace maps to debug
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// ResolveLevel picks the effective level string: flagLevel if set,
// otherwise the AVALON_LOG environment variable, otherwise "info".
func ResolveLevel(flagLevel string) string {
	if flagLevel != "" {
		return flagLevel
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env
	}
	return "info"
}

// New builds a zap.Logger for the given level name ("trace", "debug",
// "info", "warn", "error"). It uses a JSON encoder when stderr is not
// a terminal (production/container use) and a console encoder when it
// is, matching the teacher's TTY-detection split between its
// production and development encoder configs.
func New(level string) (*zap.Logger, error) {
	zapLevel, ok := levels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("avlog: unknown log level %q", level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if isTerminal(os.Stderr) {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapLevel)
	return zap.New(core, zap.AddCaller()), nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
