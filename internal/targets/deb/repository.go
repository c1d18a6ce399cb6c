package deb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// packageMap translates abstract dependency names to Debian package
// names (possibly dpkg glob patterns).
var packageMap = map[string]string{
	"icu":         "libicu??",
	"icu-dev":     "libicu-dev",
	"zlib":        "zlib1g",
	"zlib-dev":    "zlib1g-dev",
	"pam":         "libpam0g",
	"pam-dev":     "libpam0g-dev",
	"python":      "python3",
	"uuid":        "libuuid1",
	"uuid-dev":    "uuid-dev",
	"systemd-dev": "libsystemd-dev",
	"ncurses":     "ncurses-bin",
	"openssl-dev": "libssl-dev",
	"libexpat":    "libexpat?",
	"libffi-dev":  "libffi-dev",
}

// Repository resolves system packages against the apt database via
// apt-cache policy. Queries are cached per dependency name.
type Repository struct {
	parsed map[string][]*packages.Package
}

func NewRepository() *Repository {
	return &Repository{parsed: make(map[string][]*packages.Package)}
}

func (r *Repository) Name() string { return "deb" }

func (r *Repository) FindPackages(name string) ([]*packages.Package, error) {
	if pkgs, ok := r.parsed[name]; ok {
		return pkgs, nil
	}
	pkgs, err := r.aptPackages(name)
	if err != nil {
		return nil, err
	}
	r.parsed[name] = pkgs
	return pkgs, nil
}

func (r *Repository) aptPackages(name string) ([]*packages.Package, error) {
	systemName := name
	if mapped, ok := packageMap[name]; ok {
		systemName = mapped
	}

	output, err := shell.Run(context.Background(),
		"apt-cache", []string{"policy", systemName}, shell.RunOpts{})
	if err != nil {
		// An unknown package name is not an error; apt-cache exits
		// nonzero for it.
		var toolErr *shell.ToolError
		if errors.As(err, &toolErr) {
			return nil, nil
		}
		return nil, err
	}

	policies, err := parseAptPolicy(strings.TrimSpace(output))
	if err != nil {
		return nil, err
	}

	var pkgs []*packages.Package
	for _, policy := range policies {
		for _, version := range policy.versions {
			canonical, err := packages.DebianToCanonical(version)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", policy.name, err)
			}
			pkgs = append(pkgs, &packages.Package{
				Name:          name,
				Version:       canonical,
				PrettyVersion: version,
				Kind:          packages.KindSystem,
				SystemName:    policy.name,
			})
		}
	}
	return pkgs, nil
}

type aptPolicy struct {
	name     string
	versions []string
}

var policyLineRe = regexp.MustCompile(`^((?:\s|\*)*)(.*)$`)

// parseAptPolicy extracts package names and candidate versions from
// apt-cache policy output. Versions appear in the indented version
// table; only the version lines (the shallower indent level) are
// taken, not their repository source lines.
func parseAptPolicy(output string) ([]aptPolicy, error) {
	if output == "" {
		return nil, nil
	}

	var policies []aptPolicy
	lines := strings.Split(output, "\n")

	for len(lines) > 0 {
		var policy aptPolicy
		seenName := false
		no := 0

		var line string
		for no, line = range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !seenName {
				if !strings.HasSuffix(line, ":") {
					return nil, fmt.Errorf("cannot parse apt-cache policy output: %q", line)
				}
				policy.name = strings.TrimSuffix(line, ":")
				seenName = true
				continue
			}
			field, _, _ := strings.Cut(line, ":")
			if strings.EqualFold(field, "version table") {
				break
			}
		}
		if !seenName {
			break
		}
		lines = lines[no+1:]

		lastIndent := -1
		vno := len(lines)
		for i, line := range lines {
			m := policyLineRe.FindStringSubmatch(line)
			indent := len(m[1])
			content := m[2]
			if indent == 0 {
				vno = i
				break
			}
			if lastIndent == -1 || indent < lastIndent {
				version, _, _ := strings.Cut(content, " ")
				policy.versions = append(policy.versions, version)
			}
			lastIndent = indent
		}
		lines = lines[vno:]
		policies = append(policies, policy)
	}
	return policies, nil
}
