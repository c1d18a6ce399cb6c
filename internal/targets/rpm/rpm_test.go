package rpm

import (
	"errors"
	"testing"

	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		host *system.HostInfo
		dist string
	}{
		{&system.HostInfo{OS: "linux", ID: "fedora", VersionID: "40",
			Arch: "x86_64"}, "fc40"},
		{&system.HostInfo{OS: "linux", ID: "rocky", IDLike: []string{"rhel", "centos", "fedora"},
			VersionID: "9.3", Arch: "x86_64"}, "el9"},
		{&system.HostInfo{OS: "linux", ID: "centos", IDLike: []string{"rhel", "fedora"},
			VersionID: "8", Arch: "aarch64"}, "el8"},
	}
	for _, tc := range cases {
		tgt, err := detect(tc.host, targets.DetectOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if tgt == nil {
			t.Fatalf("expected %s to be claimed", tc.host.ID)
		}
		if tgt.Ident() != tc.dist {
			t.Errorf("%s: ident = %q, want %q", tc.host.ID, tgt.Ident(), tc.dist)
		}
	}
}

func TestDetectPassesOnForeignHosts(t *testing.T) {
	hosts := []*system.HostInfo{
		{OS: "darwin", Arch: "aarch64"},
		{OS: "linux", ID: "ubuntu", IDLike: []string{"debian"}, VersionID: "22.04", Arch: "x86_64"},
	}
	for _, host := range hosts {
		tgt, err := detect(host, targets.DetectOptions{})
		if err != nil || tgt != nil {
			t.Errorf("detect(%s/%s) = %v, %v; want nil, nil", host.OS, host.ID, tgt, err)
		}
	}
}

func TestDetectRejectsOldReleases(t *testing.T) {
	hosts := []*system.HostInfo{
		{OS: "linux", ID: "fedora", VersionID: "33", Arch: "x86_64"},
		{OS: "linux", ID: "centos", IDLike: []string{"rhel", "fedora"}, VersionID: "7", Arch: "x86_64"},
	}
	for _, host := range hosts {
		_, err := detect(host, targets.DetectOptions{})
		var unsupported *targets.UnsupportedPlatformError
		if !errors.As(err, &unsupported) {
			t.Errorf("detect(%s %s) = %v, want UnsupportedPlatformError",
				host.ID, host.VersionID, err)
		}
	}
}
