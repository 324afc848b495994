// Package generator derives test fixtures from a live chain. Omitted
// chain values are filled in by querying the configured RPC endpoints;
// the finished fixture is persisted through the fixture store and an
// optional reference run of the default program records the exit
// status later matrix runs are checked against.
package generator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	log "github.com/inconshreveable/log15"

	"github.com/dyluth/fpt/internal/builder"
	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/registry"
)

var logger = log.New("module", "generator")

// l1HeadDistance is how many L1 blocks past the claimed block's L1
// origin the fixture's L1 head is pinned, leaving the derivation
// pipeline enough L1 data to reach the claim.
const l1HeadDistance = 25

// Config holds everything needed to generate one fixture. The chain
// value fields (L2Claim, L2OutputRoot, L2Head, L1Head, L2ChainID) are
// optional; any left zero is derived from the RPC endpoints.
type Config struct {
	Name string

	L1RPC       string
	L1BeaconRPC string
	L2NodeRPC   string
	L2RPC       string

	L2Block      uint64
	L2Claim      string
	L2OutputRoot string
	L2Head       string
	L1Head       string
	L2ChainID    uint64

	// RollupConfig and Genesis are local paths to the chain
	// configuration files, copied into the fixture directory.
	RollupConfig string
	Genesis      string

	TestsDir string
}

// Generate derives any omitted chain values, persists the fixture under
// the tests root, and returns the saved record.
func Generate(ctx context.Context, cfg Config) (*fixture.Fixture, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("fixture name is required")
	}

	inputs := fixture.Inputs{
		L1Head:        cfg.L1Head,
		L2Head:        cfg.L2Head,
		L2OutputRoot:  cfg.L2OutputRoot,
		L2Claim:       cfg.L2Claim,
		L2BlockNumber: cfg.L2Block,
		L2ChainID:     cfg.L2ChainID,
	}
	if err := derive(ctx, cfg, &inputs); err != nil {
		return nil, err
	}

	fx := &fixture.Fixture{Name: cfg.Name, Inputs: inputs}
	if err := fixture.Save(cfg.TestsDir, fx); err != nil {
		return nil, err
	}
	if err := writeAuxFiles(cfg); err != nil {
		return nil, err
	}
	logger.Info("fixture generated", "name", fx.Name, "l2_block", inputs.L2BlockNumber)
	return fx, nil
}

// derive fills the zero-valued chain inputs by querying the endpoints.
// Values the caller supplied are kept as-is.
func derive(ctx context.Context, cfg Config, inputs *fixture.Inputs) error {
	needChain := inputs.L2Claim == "" || inputs.L2OutputRoot == "" || inputs.L2Head == "" || inputs.L1Head == ""
	if needChain && inputs.L2BlockNumber == 0 {
		return fmt.Errorf("l2 block number is required to derive chain values")
	}

	if inputs.L2Claim == "" || inputs.L1Head == "" {
		node := newRPCClient(cfg.L2NodeRPC)
		claimed, err := node.outputAtBlock(ctx, inputs.L2BlockNumber)
		if err != nil {
			return fmt.Errorf("failed to derive claim for block %d: %w", inputs.L2BlockNumber, err)
		}
		if inputs.L2Claim == "" {
			inputs.L2Claim = claimed.OutputRoot
		}
		if inputs.L1Head == "" {
			// The L1 head must cover the claimed block's L1 origin with
			// some margin so derivation can complete.
			l1 := newRPCClient(cfg.L1RPC)
			hash, err := l1.blockHashByNumber(ctx, claimed.BlockRef.L1Origin.Number+l1HeadDistance)
			if err != nil {
				return fmt.Errorf("failed to derive l1 head: %w", err)
			}
			inputs.L1Head = hash
		}
	}

	if inputs.L2OutputRoot == "" || inputs.L2Head == "" {
		node := newRPCClient(cfg.L2NodeRPC)
		agreed, err := node.outputAtBlock(ctx, inputs.L2BlockNumber-1)
		if err != nil {
			return fmt.Errorf("failed to derive agreed output root for block %d: %w", inputs.L2BlockNumber-1, err)
		}
		if inputs.L2OutputRoot == "" {
			inputs.L2OutputRoot = agreed.OutputRoot
		}
		if inputs.L2Head == "" {
			inputs.L2Head = agreed.BlockRef.Hash
		}
	}

	if inputs.L2ChainID == 0 {
		l2 := newRPCClient(cfg.L2RPC)
		id, err := l2.chainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to derive l2 chain id: %w", err)
		}
		inputs.L2ChainID = id
	}

	return nil
}

// writeAuxFiles copies the chain configuration files into the fixture
// directory and creates the witness database directory the reference
// run populates.
func writeAuxFiles(cfg Config) error {
	dir := filepath.Join(cfg.TestsDir, cfg.Name)
	if cfg.RollupConfig != "" {
		if err := copyFile(cfg.RollupConfig, filepath.Join(dir, "rollup.json")); err != nil {
			return fmt.Errorf("failed to copy rollup config: %w", err)
		}
	}
	if cfg.Genesis != "" {
		if err := copyFile(cfg.Genesis, filepath.Join(dir, "genesis.json")); err != nil {
			return fmt.Errorf("failed to copy genesis: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "witness-db"), 0o755); err != nil {
		return fmt.Errorf("failed to create witness db dir: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RecordExpectedStatus builds the registry's default program and runs
// its host natively in online mode against the live endpoints. The run
// populates the fixture's witness database for later offline execution,
// and its exit status becomes the fixture's expected status.
func RecordExpectedStatus(ctx context.Context, cfg Config, b *builder.Builder, reg *registry.Registry, fx *fixture.Fixture) error {
	program, ok := reg.DefaultProgram()
	if !ok {
		return fmt.Errorf("registry declares no default program for the reference run")
	}

	arts, err := b.EnsureBuilt(ctx, program.Build)
	if err != nil {
		return fmt.Errorf("failed to build reference program %q: %w", program.Name, err)
	}
	host, ok := arts["host"]
	if !ok {
		return fmt.Errorf("reference program %q declares no \"host\" artifact", program.Name)
	}

	dir, err := filepath.Abs(filepath.Join(cfg.TestsDir, fx.Name))
	if err != nil {
		return err
	}
	args := []string{
		"--l1", cfg.L1RPC,
		"--l1.beacon", cfg.L1BeaconRPC,
		"--l2", cfg.L2RPC,
		"--l1.head", fx.Inputs.L1Head,
		"--l2.head", fx.Inputs.L2Head,
		"--l2.outputroot", fx.Inputs.L2OutputRoot,
		"--l2.claim", fx.Inputs.L2Claim,
		"--l2.blocknumber", strconv.FormatUint(fx.Inputs.L2BlockNumber, 10),
		"--rollup.config", filepath.Join(dir, "rollup.json"),
		"--l2.genesis", filepath.Join(dir, "genesis.json"),
		"--datadir", filepath.Join(dir, "witness-db"),
	}

	logger.Info("running reference program", "program", program.Name, "fixture", fx.Name)
	cmd := exec.CommandContext(ctx, host.Path, args...)
	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return fmt.Errorf("reference run failed to execute: %w\n%s", err, out)
		}
		exitCode = exitErr.ExitCode()
	}

	fx.ExpectedStatus = exitCode
	if err := fixture.Save(cfg.TestsDir, fx); err != nil {
		return err
	}
	logger.Info("reference run recorded", "fixture", fx.Name, "expected_status", exitCode)
	return nil
}
