package rpm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sassoftware/go-rpmutils"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// packageMap translates abstract dependency names to RPM package
// names.
var packageMap = map[string]string{
	"icu":         "libicu",
	"icu-dev":     "libicu-devel",
	"zlib":        "zlib",
	"zlib-dev":    "zlib-devel",
	"pam":         "pam",
	"pam-dev":     "pam-devel",
	"python":      "python3",
	"uuid":        "libuuid",
	"uuid-dev":    "libuuid-devel",
	"systemd-dev": "systemd-devel",
	"ncurses":     "ncurses",
	"openssl-dev": "openssl-devel",
	"libexpat":    "expat",
	"libffi-dev":  "libffi-devel",
}

// Repository resolves system packages against the yum database.
// Queries are cached per dependency name.
type Repository struct {
	parsed map[string][]*packages.Package
}

func NewRepository() *Repository {
	return &Repository{parsed: make(map[string][]*packages.Package)}
}

func (r *Repository) Name() string { return "rpm" }

func (r *Repository) FindPackages(name string) ([]*packages.Package, error) {
	if pkgs, ok := r.parsed[name]; ok {
		return pkgs, nil
	}
	pkgs, err := r.yumPackages(name)
	if err != nil {
		return nil, err
	}
	r.parsed[name] = pkgs
	return pkgs, nil
}

func (r *Repository) yumPackages(name string) ([]*packages.Package, error) {
	systemName := name
	if mapped, ok := packageMap[name]; ok {
		systemName = mapped
	}

	output, err := shell.Run(context.Background(), "yum",
		[]string{"--showduplicates", "list", systemName}, shell.RunOpts{})
	if err != nil {
		// yum exits non-zero for unknown package names.
		var toolErr *shell.ToolError
		if errors.As(err, &toolErr) {
			return nil, nil
		}
		return nil, err
	}

	versions := parseYumList(strings.TrimSpace(output))
	// Highest version first, in native RPM ordering.
	sort.SliceStable(versions, func(i, j int) bool {
		return rpmutils.Vercmp(versions[i], versions[j]) > 0
	})

	var pkgs []*packages.Package
	for _, version := range versions {
		canonical, err := packages.RPMToCanonical(version)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", systemName, err)
		}
		pkgs = append(pkgs, &packages.Package{
			Name:          name,
			Version:       canonical,
			PrettyVersion: version,
			Kind:          packages.KindSystem,
			SystemName:    systemName,
		})
	}
	return pkgs, nil
}

var yumColumnsRe = regexp.MustCompile(`\s+`)

// parseYumList extracts the version column from yum list output.
// Versions follow the "Available Packages" or "Installed Packages"
// section headers, one "name version repo" row per line.
func parseYumList(output string) []string {
	var versions []string
	seen := make(map[string]bool)
	inTable := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "Packages") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		cols := yumColumnsRe.Split(line, -1)
		if len(cols) < 2 {
			continue
		}
		if !seen[cols[1]] {
			seen[cols[1]] = true
			versions = append(versions, cols[1])
		}
	}
	return versions
}
