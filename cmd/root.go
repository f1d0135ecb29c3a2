package cmd

import (
	"fmt"
	"os"

	"bidibridge/log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootCommand struct {
	cmd    *cobra.Command
	logger *log.Logger

	verbose  bool
	logLevel string
}

func newRootCommand() *rootCommand {
	c := &rootCommand{}
	c.cmd = &cobra.Command{
		Use:           "bidibridge",
		Short:         "a WebDriver BiDi to Chrome DevTools Protocol bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setupLogger()
		},
	}
	flags := c.cmd.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&c.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	c.cmd.AddCommand(newRunCommand(c))
	c.cmd.AddCommand(newVersionCommand())
	return c
}

func (c *rootCommand) setupLogger() error {
	ll := logrus.New()
	ll.SetOutput(os.Stderr)
	c.logger = log.New(ll, c.verbose, nil)
	level := c.logLevel
	if c.verbose {
		level = "debug"
	}
	if err := c.logger.SetLevel(level); err != nil {
		return fmt.Errorf("setting log level: %w", err)
	}
	return nil
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	c := newRootCommand()
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
