package commands

import (
	"fmt"

	log "github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/dyluth/fpt/internal/registry"
)

var (
	version string
	commit  string
	date    string
)

var (
	verbosity    int
	registryPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fpt",
	Short: "fpt - Fault proof test fixture generator and matrix runner",
	Long: `fpt builds pinned revisions of fault proof VMs and programs from a
declarative registry, derives test fixtures from a live chain, and runs
every compatible (platform, program, fixture) combination concurrently.

Each VM and program is treated as an opaque executable: fpt evaluates
only exit status against the fixture's expectation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging(verbosity)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// configureLogging maps -v counts onto the log15 root handler. The
// default only surfaces warnings so command output stays readable.
func configureLogging(verbosity int) {
	lvl := log.LvlWarn
	switch {
	case verbosity == 1:
		lvl = log.LvlInfo
	case verbosity >= 2:
		lvl = log.LvlDebug
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
}

// loadRegistry loads the --registry document, or the embedded default
// when none is given.
func loadRegistry() (*registry.Registry, error) {
	if registryPath != "" {
		return registry.Load(registryPath)
	}
	return registry.Default()
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Path to a registry document (default: embedded registry)")
}
