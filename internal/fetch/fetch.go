// Package fetch downloads one project manifest per repository from a raw
// file hosting endpoint. It is pure network I/O, so the fan-out is much
// wider than the resolver pool.
package fetch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// DefaultBaseURL serves raw files for GitHub repositories.
const DefaultBaseURL = "https://raw.githubusercontent.com"

// DefaultConcurrency bounds the fetch fan-out.
const DefaultConcurrency = 50

// Repository identifies one manifest to fetch.
type Repository struct {
	Org  string
	Repo string
	Ref  string
}

// Options configures a bulk fetch.
type Options struct {
	// BaseURL overrides the hosting endpoint, mainly for tests.
	BaseURL string
	// Concurrency bounds the fan-out; 0 means DefaultConcurrency.
	Concurrency int
	Client      *http.Client
	Log         *slog.Logger
}

// ReadCatalog loads (repo_name, ref) rows, deduplicating by repository name
// with first occurrence winning.
func ReadCatalog(path string) ([]Repository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	nameIdx, refIdx := -1, -1
	for i, col := range header {
		switch col {
		case "repo_name":
			nameIdx = i
		case "ref":
			refIdx = i
		}
	}
	if nameIdx < 0 || refIdx < 0 {
		return nil, fmt.Errorf("catalog %s: missing repo_name/ref columns", path)
	}

	var repositories []Repository
	seen := make(map[string]struct{})
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		name := row[nameIdx]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		org, repo, ok := strings.Cut(name, "/")
		if !ok {
			return nil, fmt.Errorf("catalog %s: malformed repo_name %q", path, name)
		}
		repositories = append(repositories, Repository{Org: org, Repo: repo, Ref: row[refIdx]})
	}
	return repositories, nil
}

// All fetches every catalog entry into outputDir, one <repo>.toml per
// repository, and returns the success count. The output directory is
// recreated empty. Individual failures are logged, not fatal.
func All(ctx context.Context, catalogPath, outputDir string, opts Options) (int, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	repositories, err := ReadCatalog(catalogPath)
	if err != nil {
		return 0, err
	}

	if err := os.RemoveAll(outputDir); err != nil {
		return 0, fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, ".gitignore"), []byte("*\n"), 0o644); err != nil {
		return 0, fmt.Errorf("write gitignore: %w", err)
	}

	p := pool.NewWithResults[bool]().WithMaxGoroutines(concurrency)
	for _, repository := range repositories {
		repository := repository
		p.Go(func() bool {
			return fetchOne(ctx, client, baseURL, repository, outputDir, log)
		})
	}

	success := 0
	for _, ok := range p.Wait() {
		if ok {
			success++
		}
	}
	log.Info("fetched manifests", "success", success, "total", len(repositories))
	return success, nil
}

// fetchOne downloads a single manifest, falling back to the main branch when
// the catalog ref fails: the upstream dataset sometimes predates a
// master -> main rename.
func fetchOne(ctx context.Context, client *http.Client, baseURL string, r Repository, outputDir string, log *slog.Logger) bool {
	primary := fmt.Sprintf("%s/%s/%s/%s/pyproject.toml", baseURL, r.Org, r.Repo, r.Ref)
	body, status, err := get(ctx, client, primary)
	if err != nil || status != http.StatusOK {
		fallback := fmt.Sprintf("%s/%s/%s/refs/heads/main/pyproject.toml", baseURL, r.Org, r.Repo)
		fbBody, fbStatus, fbErr := get(ctx, client, fallback)
		if fbErr != nil || fbStatus != http.StatusOK {
			// Report the original failure, not the fallback's.
			switch {
			case err != nil:
				log.Warn("fetch failed", "org", r.Org, "repo", r.Repo, "err", err)
			case status == http.StatusNotFound:
				log.Warn("not found", "org", r.Org, "repo", r.Repo)
			default:
				log.Warn("fetch failed", "org", r.Org, "repo", r.Repo, "status", status)
			}
			return false
		}
		body = fbBody
	}

	path := filepath.Join(outputDir, r.Repo+".toml")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.Warn("write manifest failed", "repo", r.Repo, "err", err)
		return false
	}
	return true
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
