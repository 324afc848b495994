package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/fpt/internal/builder"
	"github.com/dyluth/fpt/internal/generator"
	"github.com/dyluth/fpt/internal/printer"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a test fixture from a live chain",
	Long: `Generate a named test fixture. Chain values not given on the command
line are derived by querying the RPC endpoints; the registry's default
program is then run natively against those endpoints to populate the
fixture's witness database and record the expected exit status.

Every flag can also be set through an identically-named environment
variable (--l2-claim becomes L2_CLAIM).`,
	RunE: runGenerate,
}

func init() {
	flags := generateCmd.Flags()
	flags.String("name", "", "Fixture name (required)")
	flags.String("l1-rpc", "http://localhost:8545", "L1 execution RPC endpoint")
	flags.String("l1-beacon-rpc", "http://localhost:5052", "L1 beacon RPC endpoint")
	flags.String("l2-node-rpc", "http://localhost:7545", "L2 rollup node RPC endpoint")
	flags.String("l2-rpc", "http://localhost:9545", "L2 execution RPC endpoint")
	flags.Uint64("l2-block", 0, "L2 block number the claim commits to")
	flags.String("l2-claim", "", "Claimed output root (derived if omitted)")
	flags.String("l2-output-root", "", "Agreed starting output root (derived if omitted)")
	flags.String("l2-head", "", "Agreed L2 head hash (derived if omitted)")
	flags.String("l1-head", "", "L1 head hash (derived if omitted)")
	flags.Uint64("l2-chain-id", 0, "L2 chain id (derived if omitted)")
	flags.String("rollup-config", "", "Path to the rollup config, copied into the fixture")
	flags.String("genesis", "", "Path to the L2 genesis, copied into the fixture")
	flags.String("tests-dir", "tests", "Directory to store the fixture in")
	flags.String("cache-dir", "", "Build cache directory (default: ~/.fpt)")
	flags.Bool("skip-reference-run", false, "Skip the reference run that records the expected status")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Every flag is also bindable through the environment: --l2-claim
	// falls back to L2_CLAIM when the flag is not set.
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if v.GetString("name") == "" {
		return printer.Error(
			"fixture name is required",
			"Every fixture needs a unique name; it is the unit of --test selection.",
			[]string{"fpt generate --name my-test --l2-block <n>"},
		)
	}

	cfg := generator.Config{
		Name:         v.GetString("name"),
		L1RPC:        v.GetString("l1-rpc"),
		L1BeaconRPC:  v.GetString("l1-beacon-rpc"),
		L2NodeRPC:    v.GetString("l2-node-rpc"),
		L2RPC:        v.GetString("l2-rpc"),
		L2Block:      v.GetUint64("l2-block"),
		L2Claim:      v.GetString("l2-claim"),
		L2OutputRoot: v.GetString("l2-output-root"),
		L2Head:       v.GetString("l2-head"),
		L1Head:       v.GetString("l1-head"),
		L2ChainID:    v.GetUint64("l2-chain-id"),
		RollupConfig: v.GetString("rollup-config"),
		Genesis:      v.GetString("genesis"),
		TestsDir:     v.GetString("tests-dir"),
	}

	printer.Step("generating fixture %q\n", cfg.Name)
	fx, err := generator.Generate(ctx, cfg)
	if err != nil {
		return err
	}
	printer.Info("  l1 head:      %s\n", fx.Inputs.L1Head)
	printer.Info("  l2 head:      %s\n", fx.Inputs.L2Head)
	printer.Info("  output root:  %s\n", fx.Inputs.L2OutputRoot)
	printer.Info("  claim:        %s at block %d\n", fx.Inputs.L2Claim, fx.Inputs.L2BlockNumber)
	printer.Info("  chain id:     %d\n", fx.Inputs.L2ChainID)

	if !v.GetBool("skip-reference-run") {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		cacheDir, err := resolveCacheDir(v.GetString("cache-dir"))
		if err != nil {
			return err
		}
		printer.Step("running reference program to record expected status\n")
		if err := generator.RecordExpectedStatus(ctx, cfg, builder.New(cacheDir), reg, fx); err != nil {
			return err
		}
	}

	printer.Success("fixture %q written to %s\n", fx.Name, cfg.TestsDir)
	return nil
}
