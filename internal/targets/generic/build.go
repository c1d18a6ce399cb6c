package generic

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/sources"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// Build drives a generic archive build: a generated Makefile runs the
// composite stage scripts, the install stage populates a relocatable
// image tree, and the image is packed into the final artifact.
type Build struct {
	*targets.CommonBuild
	target *Target
}

func (b *Build) RelPath(p string, rel packages.Location, pkg *packages.Package) string {
	switch rel {
	case packages.LocSourceRoot:
		return p
	case packages.LocPkgSource:
		if pkg != nil && pkg.Name == b.RootPackage().Name {
			return p
		}
		return path.Join("..", "..", p)
	case packages.LocPkgBuild:
		return path.Join("..", "..", "..", p)
	case packages.LocHelpers:
		return path.Join("..", "..", p)
	case packages.LocFSRoot:
		return filepath.Join(b.SrcRoot(), filepath.FromSlash(p))
	default:
		return p
	}
}

func (b *Build) SourceDirRel(pkg *packages.Package) string {
	if pkg.Name == b.RootPackage().Name {
		return "."
	}
	return path.Join("thirdparty", pkg.Name)
}

func (b *Build) HelpersRootRel() string { return "build/helpers" }

func (b *Build) TarballRootRel() string { return "_artifacts/tmp/tarballs" }

func (b *Build) PatchesRootRel() string { return b.TarballRootRel() }

func (b *Build) TarballName(pkg *packages.Package) string {
	root := b.RootPackage()
	return fmt.Sprintf("%s_%s.orig-%s{part}.tar{comp}",
		root.Name, root.PrettyVersion, pkg.Name)
}

func (b *Build) imageRootRel(rel packages.Location) string {
	return path.Join(b.TempRoot(rel), "buildroot", b.RootPackage().Name)
}

func (b *Build) PackageInstallScript(pkg *packages.Package) (string, error) {
	trim, err := b.TrimInstallScript(pkg)
	if err != nil {
		return "", err
	}
	copyTree, err := b.ToolCommand("copy-tree", packages.LocPkgBuild)
	if err != nil {
		return "", err
	}
	tmpDir := b.TempDir(pkg, packages.LocPkgBuild)
	installDir := b.BuildInstallDir(pkg, packages.LocPkgBuild)
	imageRoot := b.imageRootRel(packages.LocPkgBuild)

	return trim + fmt.Sprintf(
		"%s -v --files-from=\"%s/install.list\" \"%s/\" \"%s/\"\n",
		copyTree, tmpDir, installDir, imageRoot), nil
}

func (b *Build) Prepare() error {
	return os.MkdirAll(
		filepath.Join(b.SrcRoot(), filepath.FromSlash(b.imageRootRel(packages.LocSourceRoot))),
		0o755)
}

func (b *Build) Package(ctx context.Context) error {
	if err := b.applyPatches(ctx); err != nil {
		return err
	}
	if err := b.writeMakefile(); err != nil {
		return err
	}

	make, err := b.ToolCommand("make", packages.LocSourceRoot)
	if err != nil {
		return err
	}
	if _, err := shell.Run(ctx, make, nil, shell.RunOpts{
		Dir:    b.SrcRoot(),
		Stream: os.Stdout,
	}); err != nil {
		return fmt.Errorf("native build failed: %w", err)
	}
	b.AdvanceState(targets.StateNativeBuildRun)

	files, err := b.listImageFiles()
	if err != nil {
		return err
	}
	return b.packageImage(files)
}

func (b *Build) applyPatches(ctx context.Context) error {
	patchesRoot := filepath.Join(b.SrcRoot(), filepath.FromSlash(b.PatchesRootRel()))
	for _, name := range b.Patches() {
		logger.Logger().Debugf("applying %s", name)
		args := []string{"-p1", "-i", filepath.Join(patchesRoot, name)}
		if _, err := shell.Run(ctx, "patch", args, shell.RunOpts{Dir: b.SrcRoot()}); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
	}
	return nil
}

func (b *Build) writeMakefile() error {
	configure, err := b.WriteStageScript("configure", packages.StageConfigure, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	build, err := b.WriteStageScript("build", packages.StageBuild, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	buildInstall, err := b.WriteStageScript("build_install", packages.StageBuildInstall, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	install, err := b.WriteStageScript("install", packages.StageInstall, true, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	bash, err := b.ToolCommand("bash", packages.LocSourceRoot)
	if err != nil {
		return err
	}
	copyTree, err := b.ToolCommand("copy-tree", packages.LocSourceRoot)
	if err != nil {
		return err
	}

	tmpRoot := b.TempRoot(packages.LocSourceRoot)
	imageRoot := b.imageRootRel(packages.LocSourceRoot)

	makefile := fmt.Sprintf(`.PHONY: build install

export SHELL = %s

DESTDIR := /

%s/stamp/build:
	%s
	%s
	%s
	%s
	mkdir -p "%s/stamp"
	touch "%s/stamp/build"

build: %s/stamp/build

install: build
	%s -v "%s/" "$(DESTDIR)"
`,
		bash,
		tmpRoot,
		configure, build, buildInstall, install,
		tmpRoot, tmpRoot, tmpRoot,
		copyTree, imageRoot)

	return os.WriteFile(filepath.Join(b.SrcRoot(), "Makefile"), []byte(makefile), 0o644)
}

// listImageFiles returns every regular file and symlink under the
// image root, slash-separated and relative to it.
func (b *Build) listImageFiles() ([]string, error) {
	imageAbs := filepath.Join(b.SrcRoot(), filepath.FromSlash(b.imageRootRel(packages.LocSourceRoot)))
	var files []string
	err := filepath.WalkDir(imageAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(imageAbs, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (b *Build) packageImage(files []string) error {
	root := b.RootPackage()
	imageAbs := filepath.Join(b.SrcRoot(), filepath.FromSlash(b.imageRootRel(packages.LocSourceRoot)))

	suffix := b.Revision()
	if b.Subdist() != "" {
		suffix += "~" + b.Subdist()
	}
	an := fmt.Sprintf("%s_%s_%s", root.Name, root.PrettyVersion, suffix)

	meta := targets.NewArtifactMetadata(root, b.target, b.Revision(), b.Subdist())

	flat := root.Layout == packages.LayoutFlat || root.Layout == packages.LayoutSingleBinary
	switch {
	case flat && len(files) == 1:
		ext := path.Ext(files[0])
		dest := filepath.Join(b.OutputRoot(), an+ext)
		if err := copyFile(filepath.Join(imageAbs, filepath.FromSlash(files[0])), dest); err != nil {
			return err
		}
		b.AddArtifact(dest)
		meta.InstallRef = an + ext

	case flat:
		dest := filepath.Join(b.OutputRoot(), an+".zip")
		if err := writeZip(dest, imageAbs, files); err != nil {
			return err
		}
		b.AddArtifact(dest)
		meta.InstallRef = an + ".zip"

	default:
		prefixRel := strings.TrimPrefix(b.target.InstallPrefix(root), "/")
		src := filepath.Join(imageAbs, filepath.FromSlash(prefixRel))
		tarPath := filepath.Join(b.OutputRoot(), an+".tar")
		if err := sources.TarDir(src, root.Name, tarPath); err != nil {
			return err
		}
		if err := compressFile(tarPath, tarPath+".zst", newZstdWriter); err != nil {
			return err
		}
		if err := compressFile(tarPath, tarPath+".gz", newGzipWriter); err != nil {
			return err
		}
		if err := os.Remove(tarPath); err != nil {
			return err
		}
		b.AddArtifact(tarPath + ".gz")
		b.AddArtifact(tarPath + ".zst")
		meta.InstallRef = an + ".tar.gz"
	}

	metaPath := filepath.Join(b.OutputRoot(), "package-version.json")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return err
	}
	b.AddArtifact(metaPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeZip(dest, root string, files []string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, file := range files {
		w, err := zw.Create(path.Base(file))
		if err != nil {
			out.Close()
			return err
		}
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(file)))
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
}

func newGzipWriter(w io.Writer) (io.WriteCloser, error) {
	return pgzip.NewWriterLevel(w, pgzip.BestCompression)
}

// compressFile writes a compressed copy of src to dst, keeping src.
func compressFile(src, dst string, newWriter func(io.Writer) (io.WriteCloser, error)) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	cw, err := newWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(cw, in); err != nil {
		out.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
