package sources

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func makeSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"Makefile":   "all:\n\ttrue\n",
		"src/main.c": "int main(void) { return 0; }\n",
		"README":     "readme\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLocalTarballRoundTrip(t *testing.T) {
	tree := makeSourceTree(t)
	src := NewLocalSource(tree)

	tarDir := t.TempDir()
	tarball, err := src.Tarball(context.Background(), "mytool-1.0", "", tarDir)
	if err != nil {
		t.Fatalf("Tarball failed: %v", err)
	}
	if filepath.Base(tarball) != "mytool-1.0.tar.gz" {
		t.Errorf("unexpected tarball name: %s", filepath.Base(tarball))
	}

	dest := t.TempDir()
	if err := Unpack(tarball, dest, true); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	// stripTop removes the mytool-1.0/ prefix.
	data, err := os.ReadFile(filepath.Join(dest, "src", "main.c"))
	if err != nil {
		t.Fatalf("expected stripped layout: %v", err)
	}
	if !bytes.Contains(data, []byte("int main")) {
		t.Errorf("unexpected file contents: %q", data)
	}
}

func TestLocalTarballDeterministic(t *testing.T) {
	tree := makeSourceTree(t)
	src := NewLocalSource(tree)

	read := func(dir string) []byte {
		t.Helper()
		path, err := src.Tarball(context.Background(), "mytool-1.0", "", dir)
		if err != nil {
			t.Fatalf("Tarball failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first := read(t.TempDir())
	second := read(t.TempDir())
	if !bytes.Equal(first, second) {
		t.Error("tarballs of an unchanged tree differ")
	}
}

func TestUnpackWithoutStrip(t *testing.T) {
	tree := makeSourceTree(t)
	src := NewLocalSource(tree)
	tarball, err := src.Tarball(context.Background(), "mytool-1.0", "", t.TempDir())
	if err != nil {
		t.Fatalf("Tarball failed: %v", err)
	}

	dest := t.TempDir()
	if err := Unpack(tarball, dest, false); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "mytool-1.0", "Makefile")); err != nil {
		t.Errorf("expected prefixed layout: %v", err)
	}
}

func TestEntryPath(t *testing.T) {
	cases := []struct {
		name     string
		stripTop bool
		want     string
		ok       bool
	}{
		{"pkg-1.0/src/main.c", true, "src/main.c", true},
		{"./pkg-1.0/Makefile", true, "Makefile", true},
		{"pkg-1.0", true, "", false},
		{"pkg-1.0/", true, "", false},
		{"src/main.c", false, "src/main.c", true},
	}
	for _, tc := range cases {
		got, ok := entryPath(tc.name, tc.stripTop)
		if got != tc.want || ok != tc.ok {
			t.Errorf("entryPath(%q, %v) = (%q, %v), want (%q, %v)",
				tc.name, tc.stripTop, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSecurePathRejectsEscape(t *testing.T) {
	if _, err := securePath("/tmp/dest", "../outside"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := securePath("/tmp/dest", "inside/ok"); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestForURL(t *testing.T) {
	src, err := ForURL("https://example.com/dist/zlib-1.3.tar.gz", Options{})
	if err != nil {
		t.Fatalf("ForURL failed: %v", err)
	}
	if _, ok := src.(*HTTPSSource); !ok {
		t.Errorf("expected HTTPSSource, got %T", src)
	}
	if src.Name() != "zlib-1.3.tar.gz" {
		t.Errorf("Name = %q", src.Name())
	}

	src, err = ForURL("git+https://github.com/example/tool.git", Options{Ref: "v1.0"})
	if err != nil {
		t.Fatalf("ForURL failed: %v", err)
	}
	gitSrc, ok := src.(*GitSource)
	if !ok {
		t.Fatalf("expected GitSource, got %T", src)
	}
	if gitSrc.URL() != "https://github.com/example/tool.git" {
		t.Errorf("URL = %q", gitSrc.URL())
	}
	if gitSrc.Name() != "tool" {
		t.Errorf("Name = %q", gitSrc.Name())
	}
	if gitSrc.Ref() != "v1.0" {
		t.Errorf("Ref = %q", gitSrc.Ref())
	}

	if _, err := ForURL("ftp://example.com/x", Options{}); err == nil {
		t.Error("expected unsupported scheme error")
	}
}
