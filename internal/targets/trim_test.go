package targets

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInstallTree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTrimInstall(t *testing.T) {
	dir := writeInstallTree(t, "usr/bin/a", "usr/bin/b", "usr/bin/c")

	final, warnings := TrimInstall(
		[]string{"usr/bin/a", "usr/bin/b", "usr/bin/c"},
		[]string{"usr/bin/b"},
		[]string{"usr/bin/c", "usr/bin/d"},
		dir)

	if len(final) != 1 || final[0] != "usr/bin/a" {
		t.Fatalf("final = %v, want [usr/bin/a]", final)
	}
	if len(warnings) != 1 || warnings[0] != "usr/bin/d" {
		t.Fatalf("warnings = %v, want [usr/bin/d]", warnings)
	}
}

func TestTrimInstallGlobs(t *testing.T) {
	dir := writeInstallTree(t,
		"usr/bin/tool",
		"usr/lib/libx.so.1",
		"usr/lib/libx.a",
		"usr/share/doc/readme")

	final, warnings := TrimInstall(
		[]string{"usr/bin/*", "usr/lib/*"},
		[]string{"usr/lib/*.a"},
		nil,
		dir)

	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	want := map[string]bool{"usr/bin/tool": true, "usr/lib/libx.so.1": true}
	if len(final) != len(want) {
		t.Fatalf("final = %v", final)
	}
	for _, p := range final {
		if !want[p] {
			t.Fatalf("unexpected path %s in %v", p, final)
		}
	}
}

func TestTrimInstallDeduplicates(t *testing.T) {
	dir := writeInstallTree(t, "usr/bin/tool")

	final, _ := TrimInstall(
		[]string{"usr/bin/tool", "usr/bin/*"},
		nil, nil, dir)
	if len(final) != 1 {
		t.Fatalf("expected deduplicated manifest, got %v", final)
	}
}
