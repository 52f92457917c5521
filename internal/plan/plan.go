// Package plan turns a corpus into the deduplicated, ordered job set of a
// run. Planning happens once, up front; the resulting jobs are never
// mutated.
package plan

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/resolvelab/ecotest/internal/config"
)

// Packages with combinatorially explosive version counts, no solution, or
// pathological resolve times. Removed from every plan.
var defaultExclusions = []string{
	// 5000 releases, no solution
	"nucliadb",
	// These packages have many non-small versions
	"tf-models-nightly",
	"mtmtrain",
	"llm-dialog-manager",
	"python-must",
	// Slow and have no solution
	"edx-enterprise",
	"kcli",
	"emmet-api",
}

// Job pairs a package name with the opaque payload handed to the resolver:
// a name, a pinned requirement, or a full manifest document.
type Job struct {
	Package string
	Payload string
}

// Plan is the planner output plus the skip counters surfaced to the
// operator. Jobs are ordered by package name.
type Plan struct {
	Jobs []Job

	// Manifest-directory modes only.
	NoProject           int // manifests without a [project] table
	DynamicDependencies int // skipped: dependencies only known at build time

	// Name-list modes with latest pinning only.
	MissingLatest []string
}

// Options configures planning. Input is a CSV of package names for compile
// and lock modes, a directory of project manifests otherwise.
type Options struct {
	Mode  config.Mode
	Input string
	Limit int // 0 = unlimited

	// Latest substitutes each package name with name==version from the
	// LatestVersions CSV. Only valid for name-list modes.
	Latest         bool
	LatestVersions string

	// UnsafeExecution allows manifests whose dependency list requires
	// running a build backend.
	UnsafeExecution bool

	// Exclude extends the built-in exclusion list.
	Exclude []string

	Log *slog.Logger
}

// Build derives the job set. Identical options yield a byte-identical plan.
func Build(opts Options) (*Plan, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	var (
		p   *Plan
		err error
	)
	if opts.Mode.UsesManifestDir() {
		if opts.Latest {
			return nil, fmt.Errorf("latest versions are not supported in %s mode", opts.Mode)
		}
		p, err = buildFromManifestDir(opts)
	} else {
		p, err = buildFromNameList(opts, log)
	}
	if err != nil {
		return nil, err
	}

	p.exclude(append(defaultExclusions, opts.Exclude...))
	return p, nil
}

// buildFromManifestDir plans one job per usable manifest file, patching
// dynamic version fields and skipping what cannot be resolved statically.
func buildFromManifestDir(opts Options) (*Plan, error) {
	entries, err := os.ReadDir(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	p := &Plan{}
	for _, name := range names {
		if opts.Limit > 0 && len(p.Jobs) >= opts.Limit {
			break
		}
		if filepath.Ext(name) != ".toml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(opts.Input, name))
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		payload, ok, err := patchManifest(raw, opts.UnsafeExecution, p)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", name, err)
		}
		if !ok {
			continue
		}
		p.Jobs = append(p.Jobs, Job{
			Package: strings.TrimSuffix(name, ".toml"),
			Payload: payload,
		})
	}
	return p, nil
}

// patchManifest parses a manifest and applies the dynamic-field policy:
// dynamic dependency lists are only usable under unsafe execution, and a
// dynamic version is replaced with a fixed placeholder since projects rarely
// depend on themselves. Returns ok=false when the manifest is skipped.
func patchManifest(raw []byte, unsafeExecution bool, p *Plan) (string, bool, error) {
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return "", false, err
	}
	project, ok := doc["project"].(map[string]any)
	if !ok || len(project) == 0 {
		p.NoProject++
		return "", false, nil
	}
	if dynamic, ok := project["dynamic"].([]any); ok && len(dynamic) > 0 {
		if containsString(dynamic, "dependencies") && !unsafeExecution {
			p.DynamicDependencies++
			return "", false, nil
		}
		project["dynamic"] = removeString(dynamic, "version")
		// Usually there are no cycles back to the current project, so any
		// version works.
		project["version"] = "1.0.0"
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return "", false, err
	}
	return string(out), true, nil
}

// buildFromNameList plans one job per unique package name, optionally pinned
// to the latest known version.
func buildFromNameList(opts Options, log *slog.Logger) (*Plan, error) {
	names, err := readColumn(opts.Input, "project")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var latest map[string]string
	if opts.Latest {
		latest, err = readLatestVersions(opts.LatestVersions)
		if err != nil {
			return nil, err
		}
	}

	p := &Plan{}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if opts.Limit > 0 && len(p.Jobs) >= opts.Limit {
			break
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		payload := name
		if latest != nil {
			version, ok := latest[name]
			if !ok {
				log.Warn("missing latest version", "package", name)
				p.MissingLatest = append(p.MissingLatest, name)
				continue
			}
			payload = fmt.Sprintf("%s==%s", name, version)
		}
		p.Jobs = append(p.Jobs, Job{Package: name, Payload: payload})
	}
	return p, nil
}

// exclude removes known-pathological packages post-hoc so counters and logs
// stay honest about what was planned.
func (p *Plan) exclude(packages []string) {
	drop := make(map[string]struct{}, len(packages))
	for _, name := range packages {
		drop[name] = struct{}{}
	}
	kept := p.Jobs[:0]
	for _, job := range p.Jobs {
		if _, excluded := drop[job.Package]; !excluded {
			kept = append(kept, job)
		}
	}
	p.Jobs = kept
}

// readColumn reads a single named column from a CSV catalog.
func readColumn(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}
	idx := -1
	for i, name := range header {
		if name == column {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("corpus %s: missing %q column", path, column)
	}

	var values []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		values = append(values, row[idx])
	}
	return values, nil
}

// readLatestVersions loads the package_name -> latest_version lookup table.
func readLatestVersions(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open latest versions: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read latest versions header: %w", err)
	}
	nameIdx, versionIdx := -1, -1
	for i, name := range header {
		switch name {
		case "package_name":
			nameIdx = i
		case "latest_version":
			versionIdx = i
		}
	}
	if nameIdx < 0 || versionIdx < 0 {
		return nil, fmt.Errorf("latest versions %s: missing package_name/latest_version columns", path)
	}

	versions := make(map[string]string)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read latest versions: %w", err)
		}
		versions[row[nameIdx]] = row[versionIdx]
	}
	return versions, nil
}

func containsString(list []any, want string) bool {
	for _, v := range list {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}

func removeString(list []any, drop string) []any {
	out := make([]any, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s == drop {
			continue
		}
		out = append(out, v)
	}
	return out
}
