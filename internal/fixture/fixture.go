// Package fixture defines the persisted test fixture format and the
// store that loads fixtures for a run. A fixture is one directory under
// the tests root holding fixture.json plus any auxiliary data the
// program host needs (rollup.json, genesis.json, witness-db/).
// Fixtures are written once by the generator and read-only thereafter.
package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileName is the name of the fixture record inside its directory.
const FileName = "fixture.json"

// Fixture is one self-contained dispute scenario.
type Fixture struct {
	// Name uniquely identifies the fixture and is the unit of glob
	// selection.
	Name string `json:"name"`
	// ExpectedStatus is the exit status the program host is expected
	// to produce for these inputs.
	ExpectedStatus int `json:"expected-status"`
	// Inputs are the chain-derived inputs to the fault proof program.
	Inputs Inputs `json:"inputs"`
}

// Inputs are the chain-derived program host inputs. Hashes are 0x-hex
// strings so the record round-trips without a chain-type dependency.
type Inputs struct {
	L1Head        string `json:"l1-head"`
	L2Head        string `json:"l2-head"`
	L2OutputRoot  string `json:"l2-output-root"`
	L2Claim       string `json:"l2-claim"`
	L2BlockNumber uint64 `json:"l2-block-number"`
	L2ChainID     uint64 `json:"l2-chain-id"`
}

// Save persists a fixture under root/<name>/fixture.json, creating the
// directory as needed. The record itself is written atomically.
func Save(root string, fx *Fixture) error {
	if fx.Name == "" {
		return fmt.Errorf("fixture name must not be empty")
	}
	dir := filepath.Join(root, fx.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fixture dir: %w", err)
	}

	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fixture: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, FileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	return nil
}
