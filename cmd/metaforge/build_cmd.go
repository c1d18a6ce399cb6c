package main

import (
	"github.com/spf13/cobra"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/logger"
)

var (
	buildDest        string
	buildKeepWork    bool
	buildGeneric     bool
	buildLibc        string
	buildRelease     bool
	buildSourceRef   string
	buildPkgRevision string
	buildPkgSubdist  string
	buildJobs        int
)

func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build <recipe>",
		Short: "build a native package from a recipe",
		Long: "Build resolves the recipe's dependency closure, stages and " +
			"compiles every bundled package and produces a native artifact " +
			"for the host platform, or a generic archive with --generic.",
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}

	buildCmd.Flags().StringVar(&buildDest, "dest", "artifacts",
		"artifact output directory")
	buildCmd.Flags().BoolVar(&buildKeepWork, "keepwork", false,
		"keep the work tree after the build for inspection")
	buildCmd.Flags().BoolVar(&buildGeneric, "generic", false,
		"produce a portable archive instead of a native package")
	buildCmd.Flags().StringVar(&buildLibc, "libc", "",
		"libc flavor for generic linux builds (glibc or musl)")
	buildCmd.Flags().BoolVar(&buildRelease, "release", false,
		"treat the source as a release; refuse untagged commits")
	buildCmd.Flags().StringVar(&buildSourceRef, "source-ref", "",
		"branch, tag or commit to build instead of the recipe default")
	buildCmd.Flags().StringVar(&buildPkgRevision, "pkg-revision", "",
		"package revision number, 1 when unset")
	buildCmd.Flags().StringVar(&buildPkgSubdist, "pkg-subdist", "",
		"distribution sub-channel, for example nightly")
	buildCmd.Flags().IntVar(&buildJobs, "jobs", 0,
		"native build parallelism, CPU count when unset")

	return buildCmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	ctx := cmd.Context()

	root, err := loadRootPackage(ctx, args[0], buildSourceRef, buildRelease)
	if err != nil {
		return err
	}

	target, err := detectTarget(buildGeneric, buildLibc)
	if err != nil {
		return err
	}
	log.Infof("building %s for %s", root.UniqueName(), target.Name())

	pool, err := buildPool(root, target)
	if err != nil {
		return err
	}
	extras := capabilityExtras(target)
	resolver := packages.SimpleResolver{}
	deps, err := resolver.Resolve(root, pool, extras, false)
	if err != nil {
		return err
	}
	buildDeps, err := resolver.Resolve(root, pool, extras, true)
	if err != nil {
		return err
	}

	build, err := target.NewBuild(&targets.BuildRequest{
		Root:      root,
		Deps:      deps,
		BuildDeps: buildDeps,
		OutputDir: buildDest,
		KeepWork:  buildKeepWork,
		Revision:  buildPkgRevision,
		Subdist:   buildPkgSubdist,
		Jobs:      buildJobs,
	})
	if err != nil {
		return err
	}
	if err := build.Run(ctx); err != nil {
		return err
	}

	for _, artifact := range build.Artifacts() {
		log.Infof("produced %s", artifact)
	}
	return nil
}
