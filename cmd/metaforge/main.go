// Command metaforge builds native installable artifacts (deb, rpm,
// macOS installer packages, generic archives) from abstract package
// recipes.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/logger"

	// Target subpackages register their host detectors.
	_ "github.com/metaforge-build/metaforge/internal/targets/deb"
	_ "github.com/metaforge-build/metaforge/internal/targets/generic"
	_ "github.com/metaforge-build/metaforge/internal/targets/macos"
	_ "github.com/metaforge-build/metaforge/internal/targets/rpm"
)

const (
	exitOK    = 0
	exitBuild = 1
	exitUsage = 2
)

var verbose bool

// usageError marks failures caused by the invocation or host
// configuration rather than by the build itself.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "metaforge",
		Short:         "build native packages from abstract package recipes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(verbose)
			if err != nil {
				return err
			}
			logger.Init(l)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(createBuildCommand())
	rootCmd.AddCommand(createMetadataCommand())
	return rootCmd
}

// exitCode classifies a command failure: invocation and host
// configuration problems exit 2, build failures exit 1.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		usage       *usageError
		unsupported *targets.UnsupportedPlatformError
		tool        *targets.ToolResolutionError
		notFound    *packages.PackageNotFoundError
	)
	switch {
	case errors.As(err, &usage),
		errors.As(err, &unsupported),
		errors.As(err, &tool),
		errors.As(err, &notFound):
		return exitUsage
	default:
		return exitBuild
	}
}

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "metaforge: %v\n", err)
		os.Exit(exitCode(err))
	}
}
