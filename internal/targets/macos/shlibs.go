package macos

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// Shared libraries every macOS installation provides. References to
// anything else must resolve inside the bundle.
var systemShlibRe = regexp.MustCompile(strings.Join([]string{
	`^/usr/lib/libSystem(\.B)?\.dylib$`,
	`^/usr/lib/libc\+\+\.1\.dylib$`,
	`^/usr/lib/libffi\.dylib$`,
	`^/usr/lib/libiconv\.2\.dylib$`,
	`^/usr/lib/libresolv\.9\.dylib$`,
	`^/usr/lib/libz\.1\.dylib$`,
	`^/System/Library/Frameworks/(CoreFoundation|CoreServices|IOKit|Security|SystemConfiguration)\.framework/.*$`,
}, "|"))

var machOMagics = [][4]byte{
	{0xFE, 0xED, 0xFA, 0xCE},
	{0xFE, 0xED, 0xFA, 0xCF},
	{0xCE, 0xFA, 0xED, 0xFE},
	{0xCF, 0xFA, 0xED, 0xFE},
	{0xCA, 0xFE, 0xBA, 0xBE}, // universal binary
}

// isMachO reports whether the file starts with a Mach-O magic number.
func isMachO(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var sig [4]byte
	if _, err := f.Read(sig[:]); err != nil {
		return false, nil
	}
	for _, magic := range machOMagics {
		if sig == magic {
			return true, nil
		}
	}
	return false, nil
}

// loadCommands is the dynamic linkage information of one Mach-O file.
type loadCommands struct {
	dylibs []string
	rpaths []string
}

var (
	loadCmdRe   = regexp.MustCompile(`^Load command (\d+)$`)
	dylibNameRe = regexp.MustCompile(`^name\s+([^(]+)`)
	rpathPathRe = regexp.MustCompile(`^path\s+([^(]+)`)
)

// parseLoadCommands extracts LC_LOAD_DYLIB and LC_RPATH entries from
// otool -l output.
func parseLoadCommands(output string) loadCommands {
	var lc loadCommands
	state := "skip"
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch state {
		case "skip":
			if loadCmdRe.MatchString(line) {
				state = "cmd"
			}
		case "cmd":
			switch {
			case strings.HasPrefix(line, "cmd LC_LOAD_DYLIB"):
				state = "dylib"
			case strings.HasPrefix(line, "cmd LC_RPATH"):
				state = "rpath"
			case line == "Section":
				state = "skip"
			}
		case "dylib":
			if m := dylibNameRe.FindStringSubmatch(line); m != nil {
				lc.dylibs = append(lc.dylibs, strings.TrimSpace(m[1]))
				state = "skip"
			} else if loadCmdRe.MatchString(line) {
				state = "cmd"
			} else if line == "Section" {
				state = "skip"
			}
		case "rpath":
			if m := rpathPathRe.FindStringSubmatch(line); m != nil {
				lc.rpaths = append(lc.rpaths, strings.TrimSpace(m[1]))
				state = "skip"
			} else if loadCmdRe.MatchString(line) {
				state = "cmd"
			} else if line == "Section" {
				state = "skip"
			}
		}
	}
	return lc
}

func readLoadCommands(ctx context.Context, binPath string) (loadCommands, error) {
	out, err := shell.Run(ctx, "otool", []string{"-l", binPath}, shell.RunOpts{})
	if err != nil {
		return loadCommands{}, err
	}
	return parseLoadCommands(out), nil
}

// relPath computes a slash-separated relative path between two
// absolute install locations.
func relPath(from, to string) string {
	fromParts := strings.Split(path.Clean(from), "/")
	toParts := strings.Split(path.Clean(to), "/")
	common := 0
	for common < len(fromParts) && common < len(toParts) &&
		fromParts[common] == toParts[common] {
		common++
	}
	var out []string
	for range fromParts[common:] {
		out = append(out, "..")
	}
	out = append(out, toParts[common:]...)
	if len(out) == 0 {
		return "."
	}
	return path.Join(out...)
}

// fixupRpaths rewrites absolute rpaths that point inside the install
// prefix into @loader_path-relative ones, so the bundle stays
// relocatable, and drops rpaths escaping the image. Dylib references
// covered by a rewritten rpath become @rpath references.
func (b *Build) fixupRpaths(ctx context.Context, imageRoot, binRel string) error {
	log := logger.Logger()
	prefix := b.Target().InstallPrefix(b.RootPackage())
	binAbs := imageRoot + "/" + binRel
	installPath := "/" + binRel

	lc, err := readLoadCommands(ctx, binAbs)
	if err != nil {
		return err
	}

	var args []string
	for _, rpath := range lc.rpaths {
		if strings.HasPrefix(rpath, "@loader_path") {
			continue
		}
		if !strings.HasPrefix(rpath, prefix+"/") && rpath != prefix {
			log.Warnf("%s: rpath %s points outside the install image, removing",
				binRel, rpath)
			args = append(args, "-delete_rpath", rpath)
			continue
		}
		rel := relPath(path.Dir(installPath), rpath)
		args = append(args, "-rpath", rpath, "@loader_path/"+rel)
		for _, dylib := range lc.dylibs {
			if strings.HasPrefix(dylib, rpath+"/") {
				args = append(args, "-change", dylib,
					"@rpath/"+strings.TrimPrefix(dylib, rpath+"/"))
			}
		}
	}
	if len(args) == 0 {
		return nil
	}
	args = append(args, binAbs)
	if _, err := shell.Run(ctx, "install_name_tool", args, shell.RunOpts{}); err != nil {
		return fmt.Errorf("rewriting load commands of %s: %w", binRel, err)
	}
	return nil
}

// verifyShlibs warns about dylib references that are neither provided
// by the base system nor resolvable inside the bundle.
func (b *Build) verifyShlibs(ctx context.Context, imageRoot, binRel string) error {
	log := logger.Logger()
	lc, err := readLoadCommands(ctx, imageRoot+"/"+binRel)
	if err != nil {
		return err
	}
	for _, dylib := range lc.dylibs {
		if systemShlibRe.MatchString(dylib) {
			continue
		}
		if strings.HasPrefix(dylib, "@rpath/") ||
			strings.HasPrefix(dylib, "@loader_path/") {
			continue
		}
		if _, err := os.Stat(imageRoot + dylib); err == nil {
			continue
		}
		log.Warnf("%s links against %s, which the bundle does not provide",
			binRel, dylib)
	}
	return nil
}
