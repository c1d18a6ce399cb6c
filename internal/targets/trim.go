package targets

import (
	"io/fs"
	"os"
	"sort"
)

// TrimInstall computes the final install manifest from the generated
// file lists. Entries are shell-style globs relative to installDir.
// The result is every path matched by install minus the not-installed
// and ignored sets; every ignored entry that matched nothing is
// returned as a warning.
func TrimInstall(install, noInstall, ignore []string, installDir string) (final []string, warnings []string) {
	root := os.DirFS(installDir)
	expand := func(entry string) []string {
		matches, err := fs.Glob(root, entry)
		if err != nil {
			return nil
		}
		return matches
	}

	installed := make(map[string]bool)
	var order []string
	for _, entry := range install {
		for _, p := range expand(entry) {
			if !installed[p] {
				installed[p] = true
				order = append(order, p)
			}
		}
	}

	remove := make(map[string]bool)
	for _, entry := range noInstall {
		for _, p := range expand(entry) {
			remove[p] = true
		}
	}
	for _, entry := range ignore {
		matches := expand(entry)
		if len(matches) == 0 {
			warnings = append(warnings, entry)
			continue
		}
		for _, p := range matches {
			remove[p] = true
		}
	}
	sort.Strings(warnings)

	for _, p := range order {
		if !remove[p] {
			final = append(final, p)
		}
	}
	return final, warnings
}
