// Package builder turns registry build specs into built, cached
// artifacts. Sources are checked out at their pinned revision into an
// isolated components directory, never into the caller's working tree.
package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/dyluth/fpt/internal/buildcache"
	"github.com/dyluth/fpt/internal/registry"
)

var logger = log.New("module", "builder")

// BuildError reports a failed build: either the build command exited
// nonzero, or it exited zero without producing a declared artifact.
type BuildError struct {
	Spec            *registry.BuildSpec
	ExitCode        int
	Output          string
	MissingArtifact string
}

func (e *BuildError) Error() string {
	if e.MissingArtifact != "" {
		return fmt.Sprintf("build of %s@%s succeeded but did not produce declared artifact %q (%s)",
			e.Spec.Repo, e.Spec.Rev, e.MissingArtifact, e.Spec.Artifacts[e.MissingArtifact])
	}
	return fmt.Sprintf("build of %s@%s failed with exit code %d:\n%s",
		e.Spec.Repo, e.Spec.Rev, e.ExitCode, e.Output)
}

// Builder checks out and builds pinned revisions, recording the
// results in an artifact cache. Builds for distinct cache keys proceed
// in parallel; concurrent requests for the same key are serialized by a
// per-key lock so a shared revision is only ever built once.
type Builder struct {
	cache      *buildcache.Cache
	components string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a builder rooted at the given cache directory. Layout:
// <root>/builds holds cache manifests, <root>/components holds source
// checkouts.
func New(root string) *Builder {
	return &Builder{
		cache:      buildcache.New(filepath.Join(root, "builds")),
		components: filepath.Join(root, "components"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Cache exposes the underlying artifact cache, mainly for tests.
func (b *Builder) Cache() *buildcache.Cache {
	return b.cache
}

// EnsureBuilt guarantees the spec's artifacts exist on disk, building
// them if the cache has no live entry. On a cache hit no network or
// process work happens. Partial results are never cached.
func (b *Builder) EnsureBuilt(ctx context.Context, spec *registry.BuildSpec) (map[string]buildcache.Artifact, error) {
	key := cacheKey(spec)
	if artifacts, ok := b.cache.Resolve(key); ok {
		logger.Debug("cache hit", "repo", spec.Repo, "rev", spec.Rev)
		return artifacts, nil
	}

	lock := b.lockFor(key.Digest())
	lock.Lock()
	defer lock.Unlock()

	// Another goroutine may have finished this build while we waited.
	if artifacts, ok := b.cache.Resolve(key); ok {
		return artifacts, nil
	}

	checkout := filepath.Join(b.components, key.Digest())
	if err := b.syncSource(ctx, spec, checkout); err != nil {
		return nil, err
	}

	logger.Info("building", "repo", spec.Repo, "rev", spec.Rev, "cmd", spec.Cmd)
	workdir := filepath.Join(checkout, spec.Workdir)
	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Cmd)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, &BuildError{Spec: spec, ExitCode: exitCode, Output: string(out)}
	}

	// A zero exit is not proof of success: every declared artifact
	// must exist on disk.
	artifacts := make(map[string]buildcache.Artifact, len(spec.Artifacts))
	for name, rel := range spec.Artifacts {
		path := filepath.Join(workdir, rel)
		if _, err := os.Stat(path); err != nil {
			return nil, &BuildError{Spec: spec, Output: string(out), MissingArtifact: name}
		}
		artifacts[name] = buildcache.Artifact{Path: path, Repo: spec.Repo, Rev: spec.Rev}
	}

	if err := b.cache.Store(key, artifacts); err != nil {
		return nil, err
	}
	logger.Info("built", "repo", spec.Repo, "rev", spec.Rev, "artifacts", spec.ArtifactNames())
	return artifacts, nil
}

func cacheKey(spec *registry.BuildSpec) buildcache.Key {
	return buildcache.Key{Repo: spec.Repo, Rev: spec.Rev, Workdir: spec.Workdir, Cmd: spec.Cmd}
}

// lockFor returns the build lock for one cache key, creating it on
// first use.
func (b *Builder) lockFor(digest string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[digest]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[digest] = lock
	}
	return lock
}

// syncSource makes the checkout directory hold the spec's source at
// its pinned revision. Fresh checkouts are shallow where the revision
// allows it; existing checkouts are fetched and re-pinned.
func (b *Builder) syncSource(ctx context.Context, spec *registry.BuildSpec, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		logger.Debug("source present, re-pinning", "repo", spec.Repo, "rev", spec.Rev)
		if out, err := runGit(ctx, dir, "fetch", "origin"); err != nil {
			return fmt.Errorf("failed to fetch %s: %w\n%s", spec.Repo, err, out)
		}
		if out, err := runGit(ctx, dir, "checkout", spec.Rev); err != nil {
			return fmt.Errorf("failed to checkout %s@%s: %w\n%s", spec.Repo, spec.Rev, err, out)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create components dir: %w", err)
	}

	url := cloneURL(spec.Repo)
	logger.Info("cloning", "repo", spec.Repo, "rev", spec.Rev)

	// A branch or tag revision supports a shallow clone. A bare commit
	// hash does not, so fall back to a full clone plus checkout.
	if _, err := runGit(ctx, "", "clone", "--depth", "1", "--branch", spec.Rev, url, dir); err == nil {
		return nil
	}
	os.RemoveAll(dir)

	if out, err := runGit(ctx, "", "clone", url, dir); err != nil {
		return fmt.Errorf("failed to clone %s: %w\n%s", spec.Repo, err, out)
	}
	if out, err := runGit(ctx, dir, "checkout", spec.Rev); err != nil {
		return fmt.Errorf("failed to checkout %s@%s: %w\n%s", spec.Repo, spec.Rev, err, out)
	}
	return nil
}

// cloneURL resolves a registry repo field to something git can clone:
// a full URL or an existing local path is used as-is, anything else is
// treated as a GitHub org/name.
func cloneURL(repo string) string {
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@") {
		return repo
	}
	if _, err := os.Stat(repo); err == nil {
		return repo
	}
	return "https://github.com/" + repo
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
