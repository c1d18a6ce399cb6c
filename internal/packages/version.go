package packages

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Canonical versions have the shape [epoch!]release[+local] where
// release and local are dot-separated segments. Native package
// versions are folded into this form so that versions from different
// packaging systems order consistently.

// CompareCanonical orders two canonical version strings. Negative
// means a < b.
func CompareCanonical(a, b string) int {
	ae, ar, al := splitCanonical(a)
	be, br, bl := splitCanonical(b)

	if ae != be {
		if ae < be {
			return -1
		}
		return 1
	}
	if c := compareSegments(ar, br, true); c != 0 {
		return c
	}
	// No local part sorts before any local part.
	switch {
	case al == "" && bl == "":
		return 0
	case al == "":
		return -1
	case bl == "":
		return 1
	}
	return compareSegments(al, bl, false)
}

func splitCanonical(v string) (epoch int, release, local string) {
	if i := strings.Index(v, "!"); i >= 0 {
		epoch, _ = strconv.Atoi(v[:i])
		v = v[i+1:]
	}
	if i := strings.Index(v, "+"); i >= 0 {
		return epoch, v[:i], v[i+1:]
	}
	return epoch, v, ""
}

// compareSegments orders dot-separated segment strings. In release
// position missing trailing segments count as zero; in local position
// fewer segments order first and numeric segments order above
// non-numeric ones.
func compareSegments(a, b string, release bool) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		if sa == sb {
			continue
		}
		if !release && (sa == "" || sb == "") {
			if sa == "" {
				return -1
			}
			return 1
		}
		na, aNum := atoi(sa)
		nb, bNum := atoi(sb)
		switch {
		case aNum && bNum:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case aNum != bNum:
			// Numeric segments order above alphanumeric ones.
			if aNum {
				return 1
			}
			return -1
		default:
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

var (
	nativeVersionRe = regexp.MustCompile(`^(?:(\d+):)?([^-]+)(?:-(.*))?$`)
	versionPartRe   = regexp.MustCompile(`^([0-9]*)([A-Za-z]*)(.*)$`)
	versionTrans    = strings.NewReplacer("+", ".", "-", ".", "~", ".")
)

// DebianToCanonical folds a Debian package version into canonical
// form. The distro revision becomes a local part, separator
// characters are folded to dots and embedded alpha characters are
// replaced with their rune ordinals so that OpenSSL-style versions
// like 1.1.1f order correctly.
func DebianToCanonical(debver string) (string, error) {
	return nativeToCanonical(debver, true)
}

// RPMToCanonical folds an RPM package version into canonical form.
// Unlike the Debian conversion the epoch is dropped, preserving the
// established comparison behavior for RPM system packages.
func RPMToCanonical(rpmver string) (string, error) {
	return nativeToCanonical(rpmver, false)
}

func nativeToCanonical(nativever string, keepEpoch bool) (string, error) {
	m := nativeVersionRe.FindStringSubmatch(nativever)
	if m == nil {
		return "", fmt.Errorf("unexpected native package version: %q", nativever)
	}
	epoch, upstream, revision := m[1], m[2], m[3]

	var sb strings.Builder
	if epoch != "" && keepEpoch {
		sb.WriteString(epoch)
		sb.WriteString("!")
	}

	isExtra := false
	for i, part := range strings.Split(upstream, ".") {
		if isExtra {
			sb.WriteString(".")
			sb.WriteString(versionTrans.Replace(part))
			continue
		}
		pm := versionPartRe.FindStringSubmatch(part)
		if pm[1] != "" {
			if i > 0 {
				sb.WriteString(".")
			}
			sb.WriteString(pm[1])
		}
		for _, ch := range pm[2] {
			fmt.Fprintf(&sb, ".%d", ch)
		}
		if rest := pm[3]; rest != "" {
			if strings.ContainsAny(rest[:1], "+-~") {
				rest = rest[1:]
			}
			sb.WriteString("+")
			sb.WriteString(versionTrans.Replace(rest))
			isExtra = true
		}
	}

	if revision != "" {
		if isExtra {
			sb.WriteString(".")
		} else {
			sb.WriteString("+")
		}
		sb.WriteString(versionTrans.Replace(revision))
	}
	return sb.String(), nil
}

// VersionDetails is the structured form of a package version used in
// artifact metadata.
type VersionDetails struct {
	Major      int               `json:"major"`
	Minor      int               `json:"minor"`
	Patch      int               `json:"patch"`
	Prerelease []string          `json:"prerelease"`
	Metadata   map[string]string `json:"metadata"`
}

var versionMetadataFields = map[string]string{
	"r": "build_revision",
	"d": "source_date",
	"g": "scm_revision",
	"t": "target",
	"s": "build_hash",
	"b": "build_type",
}

// ParseVersionDetails decomposes a canonical version. Local segments
// with recognized single-letter prefixes become metadata fields.
func ParseVersionDetails(version string) VersionDetails {
	_, release, local := splitCanonical(version)

	details := VersionDetails{
		Prerelease: []string{},
		Metadata:   map[string]string{},
	}

	base := release
	if i := strings.Index(release, "-"); i >= 0 {
		base = release[:i]
		details.Prerelease = strings.Split(release[i+1:], ".")
	}
	if sv := "v" + base; semver.IsValid(sv) {
		base = strings.TrimPrefix(semver.Canonical(sv), "v")
	}
	parts := strings.SplitN(base, ".", 3)
	if len(parts) > 0 {
		details.Major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		details.Minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		details.Patch, _ = strconv.Atoi(parts[2])
	}

	if local != "" {
		for _, segment := range strings.Split(local, ".") {
			if segment == "" {
				continue
			}
			if field, ok := versionMetadataFields[segment[:1]]; ok {
				details.Metadata[field] = segment[1:]
			}
		}
	}
	return details
}
