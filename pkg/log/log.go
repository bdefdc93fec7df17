// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
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

// Package log provides a run.Group unit configuring the zap logger shared by
// the other units.
package log

import (
	"fmt"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basvanbeek/hubstep/pkg"
)

const (
	flagLevel  = "log-level"
	flagFormat = "log-format"

	FormatJSON    = "json"
	FormatConsole = "console"

	defaultLevel = "info"

	errFormat pkg.Error = "expected one of: " + FormatJSON + ", " + FormatConsole
)

var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
)

// Service implements a run.Group compatible logger configuration unit.
type Service struct {
	Level  string
	Format string

	// OutputPaths defaults to stdout.
	OutputPaths []string

	logger *zap.Logger
	level  zapcore.Level
}

// Name implements run.Unit.
func (s *Service) Name() string {
	return "log"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.Level == "" {
		s.Level = defaultLevel
	}
	if s.Format == "" {
		s.Format = FormatJSON
	}

	flags := run.NewFlagSet("Logging options")

	flags.StringVar(
		&s.Level,
		flagLevel,
		s.Level,
		`Minimum log level: debug, info, warn or error`)
	flags.StringVar(
		&s.Format,
		flagFormat,
		s.Format,
		`Log encoding: json or console`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if err := s.level.UnmarshalText([]byte(s.Level)); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagLevel, err))
	}
	switch s.Format {
	case FormatJSON, FormatConsole:
	default:
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagFormat, errFormat))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() error {
	outputs := s.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	development := s.Format == FormatConsole

	encoder := zap.NewProductionEncoderConfig()
	if development {
		encoder = zap.NewDevelopmentEncoderConfig()
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(s.level),
		Development:       development,
		Encoding:          s.Format,
		EncoderConfig:     encoder,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !development,
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	s.logger = logger
	return nil
}

// Logger returns the configured logger, or a no-op logger before PreRun.
func (s *Service) Logger() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Sync flushes buffered log entries.
func (s *Service) Sync() {
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}
