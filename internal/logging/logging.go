/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/robobs/internal/config"
)

// Setup configures the process logger from cfg. Extra writers receive the
// same JSON lines, e.g. the in-memory debug log.
func Setup(cfg *config.Config, extra ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stdout
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.InstanceID != "" {
		ctx = ctx.Str("instance", cfg.InstanceID)
	}
	logger := ctx.Logger().Level(Level(cfg.Environment, cfg.LogLevel))
	log.Logger = logger
	return logger
}

// Level resolves the minimum level: an explicit name wins, otherwise
// development logs at debug and everything else at info.
func Level(environment, name string) zerolog.Level {
	if name != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if environment == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Component derives the child logger a subsystem logs through.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
