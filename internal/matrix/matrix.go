// Package matrix computes the set of (platform, program, fixture) jobs
// for a run and deterministically partitions it across CI shards.
package matrix

import (
	"fmt"

	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/registry"
)

// Job is one unit of execution: a program run under a platform against
// a fixture. Jobs are value objects, created fresh per run and never
// mutated.
type Job struct {
	Platform string
	Program  string
	Fixture  string
}

func (j Job) String() string {
	return fmt.Sprintf("%s::%s::%s", j.Platform, j.Program, j.Fixture)
}

// Filters narrows the resolved matrix. Empty fields select everything.
type Filters struct {
	// NamePattern is a shell glob applied to fixture names.
	NamePattern string
	// Platforms restricts the run to the named platforms.
	Platforms []string
	// Programs restricts the run to the named programs.
	Programs []string
}

// Resolve computes the full job set: the Cartesian product of selected
// platforms, programs, and fixtures, filtered to compatible triples.
// The ordering is stable and reproducible - platforms and programs in
// registry declaration order, fixtures in lexicographic name order -
// because the partitioner depends on it for deterministic sharding.
func Resolve(reg *registry.Registry, store *fixture.Store, filters Filters) ([]Job, error) {
	for _, name := range filters.Platforms {
		if _, ok := reg.Platform(name); !ok {
			return nil, fmt.Errorf("unknown platform %q", name)
		}
	}
	for _, name := range filters.Programs {
		if _, ok := reg.Program(name); !ok {
			return nil, fmt.Errorf("unknown program %q", name)
		}
	}

	fixtures, err := store.Select(filters.NamePattern)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	for _, platform := range reg.Platforms {
		if !selected(filters.Platforms, platform.Name) {
			continue
		}
		for _, program := range reg.Programs {
			if !selected(filters.Programs, program.Name) {
				continue
			}
			if !contains(program.PlatformCompat, platform.Name) {
				continue
			}
			for _, fx := range fixtures {
				jobs = append(jobs, Job{
					Platform: platform.Name,
					Program:  program.Name,
					Fixture:  fx.Name,
				})
			}
		}
	}
	return jobs, nil
}

func selected(filter []string, name string) bool {
	return len(filter) == 0 || contains(filter, name)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
