package config

import (
	"os"
	"path/filepath"
)

// RootEnv overrides the root directory all other paths derive from.
const RootEnv = "ECOTEST_ROOT"

// Paths locates the corpora, caches and default run directories under a
// single root. Construct it once at process start and pass it down; nothing
// else in the repo reads the environment for paths.
type Paths struct {
	Root string

	// Corpus catalogs.
	TopPackages     string // CSV of the most-downloaded package names
	LatestVersions  string // CSV mapping package name to latest version
	ManifestCatalog string // CSV of (repo_name, ref) rows for manifest fetch

	// ManifestDir holds one fetched project manifest per repository.
	ManifestDir string

	// Cache is shared between all concurrent jobs and managed entirely by
	// the resolver under test.
	Cache string

	// Default run directories for the full pipeline.
	Base   string
	Branch string
}

// NewPaths derives all locations from root.
func NewPaths(root string) Paths {
	data := filepath.Join(root, "data")
	return Paths{
		Root:            root,
		TopPackages:     filepath.Join(data, "top-15k-pypi.csv"),
		LatestVersions:  filepath.Join(data, "top-15k-pypi-latest-version.csv"),
		ManifestCatalog: filepath.Join(data, "top5k-pyproject-toml-2025-gh-stars.csv"),
		ManifestDir:     filepath.Join(root, "pyproject_tomls"),
		Cache:           filepath.Join(root, "cache"),
		Base:            filepath.Join(root, "base"),
		Branch:          filepath.Join(root, "branch"),
	}
}

// DefaultPaths uses ECOTEST_ROOT when set, the working directory otherwise.
func DefaultPaths() Paths {
	if root := os.Getenv(RootEnv); root != "" {
		return NewPaths(root)
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return NewPaths(wd)
}
