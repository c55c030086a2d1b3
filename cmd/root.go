// Package cmd defines the generate-target-matrix command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/n0n1m/amneziawg-openwrt/internal/app"
	"github.com/n0n1m/amneziawg-openwrt/internal/exitcode"
	"github.com/n0n1m/amneziawg-openwrt/internal/matrix"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services the command uses.
// Tests may substitute their own implementation through newApp.
type App interface {
	Close(ctx context.Context)
	GetLogger() *zap.Logger
	NewBuilder() *matrix.Builder
}

// newApp is the application factory.
var newApp = func(opts app.Options) (App, error) {
	return app.NewApp(opts)
}

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
	// logged reports whether the failure already went through the logger.
	logged bool
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath string
	verbose    bool
	siteURL    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "generate-target-matrix [flags] VERSION...",
		Short: "Generate the OpenWrt build matrix for amneziawg-openwrt CI.",
		Long: `generate-target-matrix crawls the OpenWrt download site for every VERSION
given (a release such as 23.05.3, or "snapshot"), collects the kernel
vermagic and package architecture of each allowed target/subtarget pair,
and prints the combined build matrix to stdout as a single JSON line.`,
		Example:       "  generate-target-matrix 23.05.3 snapshot",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(app.Options{
				ConfigPath: opts.configPath,
				Verbose:    opts.verbose,
				SiteURL:    opts.siteURL,
			})
			if err != nil {
				return &exitError{
					code: exitcode.UsageError,
					err:  fmt.Errorf("failed to initialize application services: %w", err),
				}
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		RunE: runGenerate,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.siteURL, "site-url", "", "download site root (overrides site.url)")

	return cmd
}

// Execute runs the root command against the process arguments and returns
// the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, newRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitcode.Success
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.logged {
			fmt.Fprintf(stderr, "%s: %v\n", exitcode.String(ee.code), ee.err)
		}
		return ee.code
	}
	// Flag and argument errors surface here without an exit code attached.
	fmt.Fprintf(stderr, "%s: %v\n", exitcode.String(exitcode.UsageError), err)
	fmt.Fprintln(stderr, root.UsageString())
	return exitcode.UsageError
}
