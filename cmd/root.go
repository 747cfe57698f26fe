/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cmd implements the k6frames command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// BannerColor is the color of the banner and of highlighted output.
var BannerColor = color.New(color.FgCyan)

const banner = `
   k6frames
   frame tree, navigations and waits over the Chrome DevTools Protocol
`

// consoleWriter serializes writes to a terminal or a redirected stream.
type consoleWriter struct {
	io.Writer
	isTTY bool
	mu    *sync.Mutex
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Writer.Write(p)
}

func newConsoleWriters() (stdout, stderr *consoleWriter) {
	mu := &sync.Mutex{}
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return &consoleWriter{colorable.NewColorableStdout(), stdoutTTY, mu},
		&consoleWriter{colorable.NewColorableStderr(), stderrTTY, mu}
}

// rootCommand keeps the state shared by every subcommand.
type rootCommand struct {
	ctx    context.Context
	logger *logrus.Logger
	cmd    *cobra.Command
	env    map[string]string
	stdout *consoleWriter
	stderr *consoleWriter

	verbose      bool
	noColor      bool
	browserURL   string
	configPath   string
	tracesOutput string
}

func newRootCommand(ctx context.Context, logger *logrus.Logger, env map[string]string) *rootCommand {
	stdout, stderr := newConsoleWriters()
	c := &rootCommand{
		ctx:    ctx,
		logger: logger,
		env:    env,
		stdout: stdout,
		stderr: stderr,
	}
	c.cmd = &cobra.Command{
		Use:               "k6frames",
		Short:             "navigate and wait on the frames of a browser page",
		Long:              BannerColor.Sprint(banner),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.PersistentFlags().AddFlagSet(c.rootCmdPersistentFlagSet())
	c.cmd.AddCommand(
		getGotoCmd(c),
		getTreeCmd(c),
		getWaitCmd(c),
	)

	return c
}

func (c *rootCommand) rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.browserURL, "browser-url", c.env["K6_BROWSER_WS_URL"],
		"websocket URL of the browser to attach to")
	flags.StringVarP(&c.configPath, "config", "c", c.env["K6FRAMES_CONFIG"], "JSON config file")
	flags.StringVar(&c.tracesOutput, "traces-output", c.env["K6_BROWSER_TRACES_OUTPUT"],
		"where to send traces, possible values are none,otel[=<url>]")
	must(cobra.MarkFlagFilename(flags, "config"))

	return flags
}

func (c *rootCommand) persistentPreRunE(*cobra.Command, []string) error {
	if c.verbose {
		c.logger.SetLevel(logrus.DebugLevel)
	}
	if c.noColor {
		c.stdout.Writer = colorable.NewNonColorable(os.Stdout)
		c.stderr.Writer = colorable.NewNonColorable(os.Stderr)
		color.NoColor = true
	}
	c.logger.SetOutput(c.stderr)
	c.logger.SetFormatter(&logrus.TextFormatter{ForceColors: c.stderr.isTTY, DisableColors: c.noColor})

	return nil
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	c := newRootCommand(ctx, logger, buildEnvMap(os.Environ()))
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		logger.Error(err)
		cancel()
		os.Exit(-1) //nolint:gocritic
	}
}

// buildEnvMap returns a map of the environment variables in environ,
// which is in the form returned by os.Environ.
func buildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// fprintf panics when there is an error writing to w.
func fprintf(w io.Writer, format string, a ...any) {
	if _, err := fmt.Fprintf(w, format, a...); err != nil {
		panic(err.Error())
	}
}
