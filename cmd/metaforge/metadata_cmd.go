package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metaforge-build/metaforge/internal/targets"
)

var (
	metadataGeneric     bool
	metadataLibc        string
	metadataRelease     bool
	metadataSourceRef   string
	metadataPkgRevision string
)

func createMetadataCommand() *cobra.Command {
	metadataCmd := &cobra.Command{
		Use:   "metadata <recipe>",
		Short: "print the artifact metadata a build would produce",
		Long: "Metadata resolves the recipe version against its source and " +
			"prints the JSON artifact description for the host target " +
			"without building anything.",
		Args: cobra.ExactArgs(1),
		RunE: runMetadata,
	}

	metadataCmd.Flags().BoolVar(&metadataGeneric, "generic", false,
		"describe a portable archive instead of a native package")
	metadataCmd.Flags().StringVar(&metadataLibc, "libc", "",
		"libc flavor for generic linux builds (glibc or musl)")
	metadataCmd.Flags().BoolVar(&metadataRelease, "release", false,
		"treat the source as a release; refuse untagged commits")
	metadataCmd.Flags().StringVar(&metadataSourceRef, "source-ref", "",
		"branch, tag or commit to describe instead of the recipe default")
	metadataCmd.Flags().StringVar(&metadataPkgRevision, "pkg-revision", "",
		"package revision number, 1 when unset")

	return metadataCmd
}

func runMetadata(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	root, err := loadRootPackage(ctx, args[0], metadataSourceRef, metadataRelease)
	if err != nil {
		return err
	}
	target, err := detectTarget(metadataGeneric, metadataLibc)
	if err != nil {
		return err
	}

	revision := metadataPkgRevision
	if revision == "" {
		revision = "1"
	}
	meta := targets.NewArtifactMetadata(root, target, revision, "")
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
