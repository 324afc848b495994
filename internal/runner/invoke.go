package runner

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/matrix"
)

// Invocation is a fully materialized subprocess invocation for one
// job: optional preparation commands (e.g. loading the client into the
// VM's state format) followed by the main command. All commands run in
// the job's scratch directory.
type Invocation struct {
	Prep [][]string
	Argv []string
	Env  []string
}

// Invoker turns a job and its fixture into a subprocess invocation.
// How fixture inputs reach a program host is tool-specific, so the
// convention is pluggable rather than hard-coded in the pool.
type Invoker interface {
	Invocation(job matrix.Job, fx *fixture.Fixture, fixtureDir string, platform, program Artifacts) (*Invocation, error)
}

// HostInvoker is the default convention, matching the op-program host
// CLI: fixture inputs as flags, auxiliary files from the fixture
// directory, and an optional VM wrapper when the platform declares a
// "vm" artifact.
type HostInvoker struct{}

func (HostInvoker) Invocation(job matrix.Job, fx *fixture.Fixture, fixtureDir string, platform, program Artifacts) (*Invocation, error) {
	host, ok := program["host"]
	if !ok {
		return nil, fmt.Errorf("program %q declares no \"host\" artifact", job.Program)
	}

	hostArgs := []string{
		"--l1.head", fx.Inputs.L1Head,
		"--l2.head", fx.Inputs.L2Head,
		"--l2.outputroot", fx.Inputs.L2OutputRoot,
		"--l2.claim", fx.Inputs.L2Claim,
		"--l2.blocknumber", strconv.FormatUint(fx.Inputs.L2BlockNumber, 10),
		"--rollup.config", filepath.Join(fixtureDir, "rollup.json"),
		"--l2.genesis", filepath.Join(fixtureDir, "genesis.json"),
		"--datadir", filepath.Join(fixtureDir, "witness-db"),
	}

	vm, ok := platform["vm"]
	if !ok {
		// Native execution: the host binary runs verbatim.
		return &Invocation{Argv: append([]string{host.Path}, hostArgs...)}, nil
	}

	inv := &Invocation{}
	if client, ok := program["client"]; ok {
		inv.Prep = append(inv.Prep, []string{
			vm.Path, "load-elf", "--path", client.Path, "--out", "state.json",
		})
	}
	inv.Argv = append([]string{
		vm.Path, "run",
		"--info-at", "%10000000",
		"--proof-at", "never",
		"--input", "state.json",
		"--",
	}, append([]string{host.Path}, hostArgs...)...)
	return inv, nil
}
