package runner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/fpt/internal/buildcache"
	"github.com/dyluth/fpt/internal/fixture"
	"github.com/dyluth/fpt/internal/matrix"
)

func testFixture() *fixture.Fixture {
	return &fixture.Fixture{
		Name: "reth-basic",
		Inputs: fixture.Inputs{
			L1Head:        "0xaaaa",
			L2Head:        "0xbbbb",
			L2OutputRoot:  "0xcccc",
			L2Claim:       "0xdddd",
			L2BlockNumber: 1234,
		},
	}
}

func TestHostInvoker_Native(t *testing.T) {
	job := matrix.Job{Platform: "native", Program: "op-program", Fixture: "reth-basic"}
	program := Artifacts{"host": {Path: "/cache/op-program/host"}}

	inv, err := HostInvoker{}.Invocation(job, testFixture(), "/tests/reth-basic", Artifacts{}, program)
	require.NoError(t, err)

	assert.Empty(t, inv.Prep)
	assert.Equal(t, "/cache/op-program/host", inv.Argv[0])
	assert.Contains(t, inv.Argv, "--l2.claim")
	assert.Contains(t, inv.Argv, "0xdddd")
	assert.Contains(t, inv.Argv, "--l2.blocknumber")
	assert.Contains(t, inv.Argv, "1234")
	assert.Contains(t, inv.Argv, filepath.Join("/tests/reth-basic", "rollup.json"))
	assert.Contains(t, inv.Argv, filepath.Join("/tests/reth-basic", "witness-db"))
}

func TestHostInvoker_VMWrapped(t *testing.T) {
	job := matrix.Job{Platform: "cannon", Program: "op-program", Fixture: "reth-basic"}
	platform := Artifacts{"vm": {Path: "/cache/cannon/cannon"}}
	program := Artifacts{
		"host":   {Path: "/cache/op-program/host"},
		"client": {Path: "/cache/op-program/client.elf"},
	}

	inv, err := HostInvoker{}.Invocation(job, testFixture(), "/tests/reth-basic", platform, program)
	require.NoError(t, err)

	require.Len(t, inv.Prep, 1)
	assert.Equal(t, []string{
		"/cache/cannon/cannon", "load-elf",
		"--path", "/cache/op-program/client.elf",
		"--out", "state.json",
	}, inv.Prep[0])

	assert.Equal(t, "/cache/cannon/cannon", inv.Argv[0])
	assert.Equal(t, "run", inv.Argv[1])
	assert.Contains(t, inv.Argv, "--")
	assert.Contains(t, inv.Argv, "/cache/op-program/host")
	assert.Contains(t, inv.Argv, "--l2.claim")
}

func TestHostInvoker_VMWithoutClient(t *testing.T) {
	// A program with no client ELF still runs under a VM; there is just
	// nothing to load first.
	job := matrix.Job{Platform: "cannon", Program: "op-program", Fixture: "reth-basic"}
	platform := Artifacts{"vm": {Path: "/cache/cannon/cannon"}}
	program := Artifacts{"host": {Path: "/cache/op-program/host"}}

	inv, err := HostInvoker{}.Invocation(job, testFixture(), "/tests/reth-basic", platform, program)
	require.NoError(t, err)
	assert.Empty(t, inv.Prep)
	assert.Equal(t, "/cache/cannon/cannon", inv.Argv[0])
}

func TestHostInvoker_MissingHost(t *testing.T) {
	job := matrix.Job{Platform: "native", Program: "op-program", Fixture: "reth-basic"}

	_, err := HostInvoker{}.Invocation(job, testFixture(), "/tests/reth-basic", Artifacts{}, Artifacts{
		"client": buildcache.Artifact{Path: "/cache/op-program/client.elf"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "host" artifact`)
}
