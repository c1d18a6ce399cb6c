// Package system detects the host operating system and architecture,
// feeding target selection.
package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/metaforge-build/metaforge/internal/utils/logger"
)

// OsReleaseFile is overridable for tests.
var OsReleaseFile = "/etc/os-release"

// HostInfo describes the host OS as read from /etc/os-release.
type HostInfo struct {
	OS        string   // GOOS: linux, darwin, windows
	ID        string   // distribution ID, e.g. "ubuntu"
	IDLike    []string // related distributions, e.g. ["debian"]
	Name      string   // pretty distribution name
	VersionID string   // e.g. "22.04"
	Codename  string   // e.g. "jammy"
	Arch      string   // machine architecture, e.g. "x86_64"
}

// DetectHost identifies the host platform. On Linux the distribution
// fields come from os-release; elsewhere only OS and Arch are filled.
func DetectHost() (HostInfo, error) {
	info := HostInfo{
		OS:   runtime.GOOS,
		Arch: machineArch(),
	}
	if runtime.GOOS != "linux" {
		return info, nil
	}

	f, err := os.Open(OsReleaseFile)
	if err != nil {
		return info, fmt.Errorf("cannot read %s: %w", OsReleaseFile, err)
	}
	defer f.Close()

	if err := parseOsRelease(f, &info); err != nil {
		return info, err
	}
	logger.Logger().Debugf("detected host: %s %s (%s) on %s",
		info.ID, info.VersionID, info.Codename, info.Arch)
	return info, nil
}

func parseOsRelease(r io.Reader, info *HostInfo) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		switch key {
		case "ID":
			info.ID = strings.ToLower(value)
		case "ID_LIKE":
			info.IDLike = strings.Fields(strings.ToLower(value))
		case "NAME":
			info.Name = value
		case "VERSION_ID":
			info.VersionID = value
		case "VERSION_CODENAME":
			info.Codename = strings.ToLower(value)
		}
	}
	return scanner.Err()
}

// Like reports whether the host is the given distribution or descends
// from it via ID_LIKE.
func (h HostInfo) Like(id string) bool {
	if h.ID == id {
		return true
	}
	for _, l := range h.IDLike {
		if l == id {
			return true
		}
	}
	return false
}

// VersionParts parses VERSION_ID into numeric major/minor. A missing
// minor component is reported as zero.
func (h HostInfo) VersionParts() (major, minor int) {
	parts := strings.SplitN(h.VersionID, ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

func machineArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	default:
		return runtime.GOARCH
	}
}
