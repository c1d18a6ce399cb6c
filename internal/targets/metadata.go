package targets

import "github.com/metaforge-build/metaforge/internal/packages"

// ArtifactMetadata is the machine-readable artifact description
// embedded next to produced packages and printed by the metadata
// command.
type ArtifactMetadata struct {
	Name           string                  `json:"name"`
	Version        string                  `json:"version"`
	VersionDetails packages.VersionDetails `json:"version_details"`
	Revision       string                  `json:"revision"`
	Target         string                  `json:"target"`
	Architecture   string                  `json:"architecture"`
	Dist           string                  `json:"dist,omitempty"`
	Channel        string                  `json:"channel,omitempty"`
	InstallRef     string                  `json:"installref,omitempty"`
}

// NewArtifactMetadata describes an artifact built from root for a
// target.
func NewArtifactMetadata(root *packages.Package, target Target, revision, subdist string) ArtifactMetadata {
	return ArtifactMetadata{
		Name:           root.Name,
		Version:        root.PrettyVersion,
		VersionDetails: packages.ParseVersionDetails(root.Version),
		Revision:       revision,
		Target:         target.Triple(),
		Architecture:   target.Arch(),
		Dist:           target.Ident(),
		Channel:        subdist,
	}
}
