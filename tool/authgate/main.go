/*
 * AuthGate
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command authgate runs the passkey authentication and authorization
// service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/config"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/service"
	"github.com/gravitational/authgate/lib/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("authgate", "Passkey authentication and authorization service.")
	debug := app.Flag("debug", "Enable verbose logging to stderr.").Short('d').Bool()

	start := app.Command("start", "Start the authgate daemon.").Default()
	configPath := start.Flag("config", "Path to a configuration file in YAML format.").
		Short('c').Default(defaults.ConfigFilePath).String()

	configure := app.Command("configure", "Print a sample configuration file with a fresh signing key.")

	version := app.Command("version", "Print the version.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	utils.InitLogger(os.Stderr, level)

	switch command {
	case start.FullCommand():
		return trace.Wrap(onStart(*configPath))
	case configure.FullCommand():
		return trace.Wrap(onConfigure(os.Stdout))
	case version.FullCommand():
		fmt.Printf("authgate v%v", authgate.Version)
		if authgate.Gitref != "" {
			fmt.Printf(" git:%v", authgate.Gitref)
		}
		fmt.Println()
		return nil
	}
	return nil
}

func onStart(configPath string) error {
	fc, err := config.ReadFromFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	var cfg service.Config
	if err := config.ApplyFileConfig(fc, &cfg); err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(svc.Run(ctx))
}

func onConfigure(out *os.File) error {
	fc, err := config.MakeSampleFileConfig()
	if err != nil {
		return trace.Wrap(err)
	}
	data, err := yaml.Marshal(fc)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(out, "# authgate sample configuration, usually %v\n", defaults.ConfigFilePath)
	_, err = out.Write(data)
	return trace.Wrap(err)
}
