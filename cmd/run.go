package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bidibridge/common"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
)

func runFlagSet(
	listenAddr, browserWSURL, categoryFilter *string, cacheDisabled *bool,
) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(listenAddr, "listen-addr", common.DefaultListenAddr, "address to accept BiDi clients on")
	flags.StringVar(browserWSURL, "browser-ws-url", "", "DevTools WebSocket URL of the browser")
	flags.BoolVar(cacheDisabled, "cache-disabled", false, "bypass the browser HTTP cache")
	flags.StringVar(categoryFilter, "category-filter", "", "log category filter regexp")
	return flags
}

func newRunCommand(root *rootCommand) *cobra.Command {
	var (
		listenAddr     string
		browserWSURL   string
		cacheDisabled  bool
		categoryFilter string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := common.NewOptions()
			envOpts, err := common.OptionsFromEnv()
			if err != nil {
				return fmt.Errorf("reading environment config: %w", err)
			}
			opts = opts.Apply(envOpts)

			var flagOpts common.Options
			if cmd.Flags().Changed("listen-addr") {
				flagOpts.ListenAddr = null.StringFrom(listenAddr)
			}
			if cmd.Flags().Changed("browser-ws-url") {
				flagOpts.BrowserWSURL = null.StringFrom(browserWSURL)
			}
			if cmd.Flags().Changed("cache-disabled") {
				flagOpts.CacheDisabled = null.BoolFrom(cacheDisabled)
			}
			if cmd.Flags().Changed("category-filter") {
				flagOpts.CategoryFilter = null.StringFrom(categoryFilter)
			}
			opts = opts.Apply(flagOpts)

			if opts.CategoryFilter.String != "" {
				if err := root.logger.SetCategoryFilter(opts.CategoryFilter.String); err != nil {
					return fmt.Errorf("setting category filter: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := common.NewServer(root.logger, opts)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().AddFlagSet(runFlagSet(&listenAddr, &browserWSURL, &categoryFilter, &cacheDisabled))

	return cmd
}
