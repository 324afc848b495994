package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/fpt/internal/builder"
	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/matrix"
	"github.com/dyluth/fpt/internal/printer"
	"github.com/dyluth/fpt/internal/runner"
)

var (
	runTestPattern string
	runPlatforms   []string
	runPrograms    []string
	runPartition   string
	runWorkers     int
	runTimeout     time.Duration
	runTestsDir    string
	runCacheDir    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fixture matrix",
	Long: `Run every compatible (platform, program, fixture) combination.

The job set is the Cartesian product of the registry's platforms and
programs, restricted by each program's platform-compat list and by the
--test/--vm/--program filters. Needed artifacts are built (or resolved
from the build cache) first; jobs then execute on a fixed-size worker
pool.

Partitioning splits the job set across CI shards:

  fpt run --partition 2/4    # this shard runs jobs 2, 6, 10, ...

The exit status is zero only when every job passes.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTestPattern, "test", "", "Run only fixtures matching this glob pattern")
	runCmd.Flags().StringSliceVar(&runPlatforms, "vm", nil, "Run only on these platforms (repeatable)")
	runCmd.Flags().StringSliceVar(&runPrograms, "program", nil, "Run only these programs (repeatable)")
	runCmd.Flags().StringVar(&runPartition, "partition", "", "Run one shard of the job set, as i/n")
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "Number of concurrent jobs")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", runner.DefaultTimeout, "Per-job execution timeout")
	runCmd.Flags().StringVar(&runTestsDir, "tests-dir", "tests", "Directory holding the fixtures")
	runCmd.Flags().StringVar(&runCacheDir, "cache-dir", "", "Build cache directory (default: ~/.fpt)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	store, err := fixture.Open(runTestsDir)
	if err != nil {
		return err
	}
	if len(store.All()) == 0 {
		return printer.Error(
			"no fixtures found",
			fmt.Sprintf("The tests directory %q holds no fixtures.", runTestsDir),
			[]string{"Generate one first:\n  fpt generate --name my-test --l2-block <n>"},
		)
	}

	jobs, err := matrix.Resolve(reg, store, matrix.Filters{
		NamePattern: runTestPattern,
		Platforms:   runPlatforms,
		Programs:    runPrograms,
	})
	if err != nil {
		return err
	}

	if runPartition != "" {
		index, total, err := matrix.ParsePartition(runPartition)
		if err != nil {
			return err
		}
		jobs, err = matrix.Partition(jobs, index, total)
		if err != nil {
			return err
		}
	}
	if len(jobs) == 0 {
		printer.Warning("no jobs selected, nothing to do\n")
		return nil
	}

	cacheDir, err := resolveCacheDir(runCacheDir)
	if err != nil {
		return err
	}

	printer.Step("building artifacts for %d job(s)\n", len(jobs))
	index := runner.BuildAll(ctx, builder.New(cacheDir), reg, jobs)
	for _, buildErr := range index.BuildFailures() {
		printer.Warning("build failed: %v\n", buildErr)
	}

	printer.Step("running %d job(s) on %d worker(s)\n", len(jobs), runWorkers)
	pool := &runner.Pool{
		Workers: runWorkers,
		Timeout: runTimeout,
		Index:   index,
		Store:   store,
	}
	summary := runner.NewSummary()
	pool.Run(ctx, jobs, summary)

	if err := summary.Render(os.Stdout); err != nil {
		return err
	}
	if !summary.OK() {
		_, failed, errored, timedOut := summary.Counts()
		return fmt.Errorf("%d failed, %d errored, %d timed out", failed, errored, timedOut)
	}
	printer.Success("all %d job(s) passed\n", len(jobs))
	return nil
}

// resolveCacheDir defaults the build cache to ~/.fpt, matching where
// the generate command caches its reference builds.
func resolveCacheDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory for the build cache: %w", err)
	}
	return filepath.Join(home, ".fpt"), nil
}
