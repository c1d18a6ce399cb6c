package macos

import (
	"os"
	"path/filepath"
	"testing"
)

const otoolOutput = `/image/opt/app/bin/app:
Load command 11
          cmd LC_LOAD_DYLIB
      cmdsize 56
         name /usr/lib/libSystem.B.dylib (offset 24)
   time stamp 2 Thu Jan  1 00:00:02 1970
      current version 1311.100.3
compatibility version 1.0.0
Load command 12
          cmd LC_LOAD_DYLIB
      cmdsize 64
         name @rpath/libshared.dylib (offset 24)
   time stamp 2 Thu Jan  1 00:00:02 1970
      current version 0.0.0
compatibility version 0.0.0
Load command 13
          cmd LC_RPATH
      cmdsize 40
         path @loader_path/../lib (offset 12)
Load command 14
          cmd LC_SEGMENT_64
      cmdsize 72
      segname __TEXT
Section
  sectname __text
   segname __TEXT`

func TestParseLoadCommands(t *testing.T) {
	lc := parseLoadCommands(otoolOutput)

	wantDylibs := []string{
		"/usr/lib/libSystem.B.dylib",
		"@rpath/libshared.dylib",
	}
	if len(lc.dylibs) != len(wantDylibs) {
		t.Fatalf("dylibs = %v, want %v", lc.dylibs, wantDylibs)
	}
	for i, want := range wantDylibs {
		if lc.dylibs[i] != want {
			t.Errorf("dylibs[%d] = %q, want %q", i, lc.dylibs[i], want)
		}
	}

	if len(lc.rpaths) != 1 || lc.rpaths[0] != "@loader_path/../lib" {
		t.Errorf("rpaths = %v", lc.rpaths)
	}
}

func TestIsMachO(t *testing.T) {
	dir := t.TempDir()

	machO := filepath.Join(dir, "bin")
	if err := os.WriteFile(machO, []byte{0xCF, 0xFA, 0xED, 0xFE, 0x00}, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "script")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if got, err := isMachO(machO); err != nil || !got {
		t.Errorf("isMachO(machO) = %v, %v", got, err)
	}
	if got, err := isMachO(script); err != nil || got {
		t.Errorf("isMachO(script) = %v, %v", got, err)
	}
	if got, err := isMachO(empty); err != nil || got {
		t.Errorf("isMachO(empty) = %v, %v", got, err)
	}
}

func TestSystemShlibPattern(t *testing.T) {
	allowed := []string{
		"/usr/lib/libSystem.B.dylib",
		"/usr/lib/libz.1.dylib",
		"/System/Library/Frameworks/Security.framework/Versions/A/Security",
	}
	for _, lib := range allowed {
		if !systemShlibRe.MatchString(lib) {
			t.Errorf("%s should be an allowed system library", lib)
		}
	}
	denied := []string{
		"/usr/local/lib/libssl.dylib",
		"/usr/lib/libcrypto.dylib",
	}
	for _, lib := range denied {
		if systemShlibRe.MatchString(lib) {
			t.Errorf("%s should not be an allowed system library", lib)
		}
	}
}

func TestRelPath(t *testing.T) {
	cases := []struct {
		from, to, want string
	}{
		{"/opt/app/bin", "/opt/app/lib", "../lib"},
		{"/opt/app/lib", "/opt/app/lib", "."},
		{"/opt/app/bin/sub", "/opt/app", "../.."},
	}
	for _, tc := range cases {
		if got := relPath(tc.from, tc.to); got != tc.want {
			t.Errorf("relPath(%s, %s) = %q, want %q", tc.from, tc.to, got, tc.want)
		}
	}
}
