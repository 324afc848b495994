// Package runner executes the resolved job matrix: a fixed pool of
// workers invokes each (platform, program, fixture) job as a bounded
// subprocess and records the outcome in a shared summary.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/dyluth/fpt/internal/buildcache"
	"github.com/dyluth/fpt/internal/builder"
	"github.com/dyluth/fpt/internal/matrix"
	"github.com/dyluth/fpt/internal/registry"
)

var logger = log.New("module", "runner")

// Artifacts maps logical artifact names (vm, client, host) to built
// artifacts for one registry entry.
type Artifacts map[string]buildcache.Artifact

// ArtifactIndex holds the built artifacts, or the build failure, for
// every platform and program referenced by a job set. It is populated
// before any job is scheduled and read-only afterwards; the executor
// never triggers a build.
type ArtifactIndex struct {
	mu        sync.Mutex
	platforms map[string]Artifacts
	programs  map[string]Artifacts
	failures  map[string]error
}

// NewArtifactIndex returns an empty index.
func NewArtifactIndex() *ArtifactIndex {
	return &ArtifactIndex{
		platforms: make(map[string]Artifacts),
		programs:  make(map[string]Artifacts),
		failures:  make(map[string]error),
	}
}

// SetPlatform records a platform's built artifacts. A pre-available
// platform (no build block) records an empty set.
func (ix *ArtifactIndex) SetPlatform(name string, arts Artifacts) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.platforms[name] = arts
}

// SetProgram records a program's built artifacts.
func (ix *ArtifactIndex) SetProgram(name string, arts Artifacts) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.programs[name] = arts
}

// SetPlatformError records a platform build failure. Jobs on this
// platform surface as Error outcomes instead of aborting the matrix.
func (ix *ArtifactIndex) SetPlatformError(name string, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.failures["platform/"+name] = err
}

// SetProgramError records a program build failure.
func (ix *ArtifactIndex) SetProgramError(name string, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.failures["program/"+name] = err
}

// Platform returns a platform's artifacts, or the error that prevented
// them from being built.
func (ix *ArtifactIndex) Platform(name string) (Artifacts, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err, ok := ix.failures["platform/"+name]; ok {
		return nil, err
	}
	arts, ok := ix.platforms[name]
	if !ok {
		return nil, fmt.Errorf("platform %q was never built", name)
	}
	return arts, nil
}

// Program returns a program's artifacts, or the error that prevented
// them from being built.
func (ix *ArtifactIndex) Program(name string) (Artifacts, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err, ok := ix.failures["program/"+name]; ok {
		return nil, err
	}
	arts, ok := ix.programs[name]
	if !ok {
		return nil, fmt.Errorf("program %q was never built", name)
	}
	return arts, nil
}

// BuildFailures returns every recorded build failure, sorted by entry
// name for stable reporting.
func (ix *ArtifactIndex) BuildFailures() []error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	keys := make([]string, 0, len(ix.failures))
	for key := range ix.failures {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, key := range keys {
		errs = append(errs, ix.failures[key])
	}
	return errs
}

// BuildAll ensures every platform and program referenced by the job set
// is built, in parallel. Failures are recorded per entry so that jobs
// with independent artifacts still run.
func BuildAll(ctx context.Context, b *builder.Builder, reg *registry.Registry, jobs []matrix.Job) *ArtifactIndex {
	ix := NewArtifactIndex()

	platformNames := make(map[string]bool)
	programNames := make(map[string]bool)
	for _, job := range jobs {
		platformNames[job.Platform] = true
		programNames[job.Program] = true
	}

	var wg sync.WaitGroup
	for name := range platformNames {
		platform, ok := reg.Platform(name)
		if !ok {
			ix.SetPlatformError(name, fmt.Errorf("platform %q not in registry", name))
			continue
		}
		if platform.Build == nil {
			// Pre-available platform, nothing to build.
			ix.SetPlatform(name, Artifacts{})
			continue
		}
		wg.Add(1)
		go func(name string, spec *registry.BuildSpec) {
			defer wg.Done()
			arts, err := b.EnsureBuilt(ctx, spec)
			if err != nil {
				logger.Error("platform build failed", "platform", name, "err", err)
				ix.SetPlatformError(name, err)
				return
			}
			ix.SetPlatform(name, Artifacts(arts))
		}(name, platform.Build)
	}

	for name := range programNames {
		program, ok := reg.Program(name)
		if !ok {
			ix.SetProgramError(name, fmt.Errorf("program %q not in registry", name))
			continue
		}
		wg.Add(1)
		go func(name string, spec *registry.BuildSpec) {
			defer wg.Done()
			arts, err := b.EnsureBuilt(ctx, spec)
			if err != nil {
				logger.Error("program build failed", "program", name, "err", err)
				ix.SetProgramError(name, err)
				return
			}
			ix.SetProgram(name, Artifacts(arts))
		}(name, program.Build)
	}

	wg.Wait()
	return ix
}
