// Package describe runs the enclave conversion tool in read-only mode
// against an existing EIF to recover its measurements. No network.
package describe

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/evervault/enclave-cli/internal/subprocess"
)

// Measurements are the platform configuration registers produced by the
// conversion tool, per spec.md §3.
type Measurements struct {
	PCR0      string `json:"PCR0"`
	PCR1      string `json:"PCR1"`
	PCR2      string `json:"PCR2"`
	PCR8      string `json:"PCR8,omitempty"`
	Signature string `json:"Signature,omitempty"`
}

// ConversionTool names the shelled-out enclave conversion binary.
const ConversionTool = "enclave-convert"

// Describe invokes the conversion tool in describe mode against eifPath and
// parses its measurement JSON object from standard output. Matches
// original_source/src/describe/mod.rs: check the EIF exists, verify the
// container builder daemon is up, then invoke the conversion tool.
func Describe(ctx context.Context, eifPath string) (*Measurements, error) {
	if _, err := os.Stat(eifPath); err != nil {
		return nil, errors.Wrapf(err, "describe: eif %s", eifPath)
	}

	if err := subprocess.Reachable(ctx, subprocess.BuilderDaemon, "info"); err != nil {
		return nil, subprocess.ErrDaemonNotRunning
	}

	abs, err := filepath.Abs(eifPath)
	if err != nil {
		return nil, errors.Wrapf(err, "describe: resolving %s", eifPath)
	}

	out, err := subprocess.Command(ctx, ConversionTool, "describe", "--eif-path", abs, "--output-format", "json")
	if err != nil {
		return nil, errors.Wrap(err, "describe: running conversion tool")
	}

	var m Measurements
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, errors.Wrap(err, "describe: parsing measurements")
	}
	return &m, nil
}
