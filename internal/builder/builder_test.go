package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/fpt/internal/buildcache"
	"github.com/dyluth/fpt/internal/registry"
)

// initSourceRepo creates a local git repository with a trivial
// buildable program and tags it v1. Local repos keep the tests hermetic
// while exercising the real clone/checkout path.
func initSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	script := "#!/bin/sh\nexit 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host.sh"), []byte(script), 0o755))

	gitIn(t, dir, "init", "--quiet")
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "-c", "user.name=fpt", "-c", "user.email=fpt@test", "commit", "--quiet", "-m", "initial")
	gitIn(t, dir, "tag", "v1")
	return dir
}

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func testSpec(repo string) *registry.BuildSpec {
	return &registry.BuildSpec{
		Repo: repo,
		Rev:  "v1",
		Cmd:  "echo built >> build.log && mkdir -p bin && cp host.sh bin/host",
		Artifacts: map[string]string{
			"host": "bin/host",
		},
	}
}

func TestEnsureBuilt_ProducesArtifacts(t *testing.T) {
	repo := initSourceRepo(t)
	b := New(t.TempDir())

	artifacts, err := b.EnsureBuilt(context.Background(), testSpec(repo))
	require.NoError(t, err)

	host, ok := artifacts["host"]
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(host.Path))
	assert.FileExists(t, host.Path)
	assert.Equal(t, repo, host.Repo)
	assert.Equal(t, "v1", host.Rev)
}

func TestEnsureBuilt_SecondCallIsCacheHit(t *testing.T) {
	repo := initSourceRepo(t)
	root := t.TempDir()
	b := New(root)
	spec := testSpec(repo)

	first, err := b.EnsureBuilt(context.Background(), spec)
	require.NoError(t, err)

	second, err := b.EnsureBuilt(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, first, second, "cache hit must return identical artifact paths")

	// The build command appends to build.log on every run; exactly one
	// line means the checkout and build happened exactly once.
	digest := buildcache.Key{Repo: spec.Repo, Rev: spec.Rev, Workdir: spec.Workdir, Cmd: spec.Cmd}.Digest()
	logData, err := os.ReadFile(filepath.Join(root, "components", digest, "build.log"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(logData))
}

func TestEnsureBuilt_ConcurrentRequestsBuildOnce(t *testing.T) {
	repo := initSourceRepo(t)
	root := t.TempDir()
	b := New(root)
	spec := testSpec(repo)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.EnsureBuilt(context.Background(), spec)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	digest := buildcache.Key{Repo: spec.Repo, Rev: spec.Rev, Workdir: spec.Workdir, Cmd: spec.Cmd}.Digest()
	logData, err := os.ReadFile(filepath.Join(root, "components", digest, "build.log"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(logData))
}

func TestEnsureBuilt_CommandFailure(t *testing.T) {
	repo := initSourceRepo(t)
	b := New(t.TempDir())

	spec := testSpec(repo)
	spec.Cmd = "echo broken build >&2 && exit 3"

	_, err := b.EnsureBuilt(context.Background(), spec)
	require.Error(t, err)

	var berr *BuildError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 3, berr.ExitCode)
	assert.Contains(t, berr.Output, "broken build")
	assert.Empty(t, berr.MissingArtifact)

	// A failed build must not be cached.
	_, ok := b.Cache().Resolve(buildcache.Key{Repo: spec.Repo, Rev: spec.Rev, Workdir: spec.Workdir, Cmd: spec.Cmd})
	assert.False(t, ok)
}

func TestEnsureBuilt_MissingDeclaredArtifact(t *testing.T) {
	repo := initSourceRepo(t)
	b := New(t.TempDir())

	// The command exits zero but never produces bin/host.
	spec := testSpec(repo)
	spec.Cmd = "true"

	_, err := b.EnsureBuilt(context.Background(), spec)
	require.Error(t, err)

	var berr *BuildError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "host", berr.MissingArtifact)
}

func TestEnsureBuilt_CommitHashRevision(t *testing.T) {
	repo := initSourceRepo(t)
	sha := gitIn(t, repo, "rev-parse", "HEAD")
	b := New(t.TempDir())

	spec := testSpec(repo)
	spec.Rev = sha

	artifacts, err := b.EnsureBuilt(context.Background(), spec)
	require.NoError(t, err)
	assert.FileExists(t, artifacts["host"].Path)
	assert.Equal(t, sha, artifacts["host"].Rev)
}

func TestCloneURL(t *testing.T) {
	local := t.TempDir()

	assert.Equal(t, "https://github.com/org/repo", cloneURL("org/repo"))
	assert.Equal(t, "https://example.com/repo.git", cloneURL("https://example.com/repo.git"))
	assert.Equal(t, "git@github.com:org/repo.git", cloneURL("git@github.com:org/repo.git"))
	assert.Equal(t, local, cloneURL(local))
}
