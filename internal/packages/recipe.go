package packages

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/metaforge-build/metaforge/internal/sources"
)

//go:embed schema.json
var recipeSchemaText string

var recipeSchema = jsonschema.MustCompileString("recipe.json", recipeSchemaText)

type recipeFile struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	License     string `yaml:"license"`
	Group       string `yaml:"group"`
	URL         string `yaml:"url"`
	Identifier  string `yaml:"identifier"`
	Version     string `yaml:"version"`
	Kind        string `yaml:"kind"`
	Layout      string `yaml:"layout"`
	SystemName  string `yaml:"system_name"`

	Sources []struct {
		URL               string   `yaml:"url"`
		SHA256            string   `yaml:"sha256"`
		ChecksumURL       string   `yaml:"csum_url"`
		ChecksumAlgo      string   `yaml:"csum_algo"`
		ExcludeSubmodules []string `yaml:"exclude_submodules"`
		CloneDepth        int      `yaml:"clone_depth"`
	} `yaml:"sources"`

	Requires      []recipeDependency `yaml:"requires"`
	BuildRequires []recipeDependency `yaml:"build_requires"`

	Conflicts   []string `yaml:"conflicts"`
	Transitions []string `yaml:"transitions"`
	Provides    []string `yaml:"provides"`

	Options map[string]string `yaml:"options"`
	Tags    map[string]string `yaml:"tags"`
}

type recipeDependency struct {
	Name       string   `yaml:"name"`
	Constraint string   `yaml:"constraint"`
	Extras     []string `yaml:"extras"`
}

// validateRecipe checks a raw recipe document against the embedded
// schema. The document is round-tripped through JSON since the schema
// validator expects JSON-decoded values.
func validateRecipe(doc []byte) error {
	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("malformed recipe: %w", err)
	}
	jsonDoc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("malformed recipe: %w", err)
	}
	var jsonRaw any
	if err := json.Unmarshal(jsonDoc, &jsonRaw); err != nil {
		return fmt.Errorf("malformed recipe: %w", err)
	}
	if err := recipeSchema.Validate(jsonRaw); err != nil {
		return fmt.Errorf("invalid recipe: %w", err)
	}
	return nil
}

// ParseRecipe builds a package from recipe text. recipeDir anchors
// the recipe-adjacent patches and static list files; it may be empty
// for synthetic packages.
func ParseRecipe(doc []byte, recipeDir string) (*Package, error) {
	if err := validateRecipe(doc); err != nil {
		return nil, err
	}

	var rf recipeFile
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("malformed recipe: %w", err)
	}

	pkg := &Package{
		Name:          rf.Name,
		Title:         rf.Title,
		Description:   rf.Description,
		License:       rf.License,
		Group:         rf.Group,
		URL:           rf.URL,
		Identifier:    rf.Identifier,
		Version:       rf.Version,
		PrettyVersion: rf.Version,
		Kind:          Kind(rf.Kind),
		Layout:        parseLayout(rf.Layout),
		SystemName:    rf.SystemName,
		Conflicts:     rf.Conflicts,
		Transitions:   rf.Transitions,
		Provides:      rf.Provides,
		Options:       rf.Options,
		Tags:          rf.Tags,
		RecipeDir:     recipeDir,
	}

	for _, src := range rf.Sources {
		s, err := sources.ForURL(src.URL, sources.Options{
			ExcludeSubmodules: src.ExcludeSubmodules,
			CloneDepth:        src.CloneDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", pkg.Name, err)
		}
		if src.SHA256 != "" {
			v, err := sources.NewHashVerification("sha256", src.SHA256)
			if err != nil {
				return nil, fmt.Errorf("recipe %s: %w", pkg.Name, err)
			}
			s.AddVerification(v)
		}
		if src.ChecksumURL != "" {
			algo := src.ChecksumAlgo
			if algo == "" {
				algo = "sha256"
			}
			v, err := sources.NewHashVerificationURL(algo, src.ChecksumURL)
			if err != nil {
				return nil, fmt.Errorf("recipe %s: %w", pkg.Name, err)
			}
			s.AddVerification(v)
		}
		pkg.Sources = append(pkg.Sources, s)
	}

	pkg.Requires = toDependencies(rf.Requires)
	pkg.BuildRequires = toDependencies(rf.BuildRequires)

	scripts, err := ScriptsFor(pkg.Kind)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", pkg.Name, err)
	}
	pkg.Scripts = scripts

	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func toDependencies(deps []recipeDependency) []Dependency {
	out := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		out = append(out, Dependency{
			Name:       d.Name,
			Constraint: d.Constraint,
			InExtras:   d.Extras,
		})
	}
	return out
}

func parseLayout(s string) Layout {
	switch s {
	case "flat":
		return LayoutFlat
	case "single-binary":
		return LayoutSingleBinary
	default:
		return LayoutRegular
	}
}

// LoadRecipe reads a recipe file from disk.
func LoadRecipe(path string) (*Package, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pkg, err := ParseRecipe(doc, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pkg, nil
}

// LoadRecipeDir loads every *.yaml recipe under dir into a bundle
// repository.
func LoadRecipeDir(dir string) (*BundleRepository, error) {
	repo := NewBundleRepository()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		pkg, err := LoadRecipe(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		repo.Add(pkg)
	}
	return repo, nil
}

// ResolveLocator turns a CLI package locator into a recipe path. The
// locator is either a recipe file, a directory containing recipe.yaml,
// or a legacy dotted module path with a class suffix of which only the
// last path segment is meaningful.
func ResolveLocator(locator string) (string, error) {
	if info, err := os.Stat(locator); err == nil {
		if info.IsDir() {
			return filepath.Join(locator, "recipe.yaml"), nil
		}
		return locator, nil
	}

	key := locator
	if i := strings.LastIndex(key, ":"); i >= 0 {
		key = key[:i]
	}
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	if key == "" {
		return "", fmt.Errorf("invalid package locator %q", locator)
	}
	if info, err := os.Stat(key); err == nil && info.IsDir() {
		return filepath.Join(key, "recipe.yaml"), nil
	}
	return "", fmt.Errorf("no recipe found for locator %q", locator)
}
