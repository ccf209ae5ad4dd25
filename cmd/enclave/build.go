package enclave

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/exitcode"
	"github.com/evervault/enclave-cli/internal/log"
	"github.com/evervault/enclave-cli/internal/orchestrator"
)

func newBuildCmd() *cobra.Command {
	var configPath string
	var contextDir string
	var noCache bool
	var reproducible bool
	var keepOutput bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an enclave image from a Dockerfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfgFile, err := enclaveconfig.Load(configPath)
			if err != nil {
				return exitWith(exitcode.NoInput, err)
			}
			validated, err := cfgFile.Validate()
			if err != nil {
				return exitWith(exitcode.DataErr, err)
			}

			mode := orchestrator.BuildStandard
			if reproducible {
				mode = orchestrator.BuildReproducible
			}

			built, err := orchestrator.Build(ctx, orchestrator.BuildOptions{
				ContextDir:       contextDir,
				DockerfilePath:   validated.DockerfilePath,
				ImageTag:         validated.EnclaveName + ":latest",
				Mode:             mode,
				NoCache:          noCache,
				DataPlaneVersion: validated.DataPlaneVersion,
				InstallerVersion: validated.InstallerVersion,
				KeepOutput:       keepOutput,
			}, validated)
			if err != nil {
				return exitWith(exitcode.Software, err)
			}

			log.L().WithField("eif_path", built.EIFPath).Info("build: enclave image produced")

			if built.Measurements != nil {
				if err := enclaveconfig.Persist(configPath, enclaveconfig.Measurements{
					PCR0: built.Measurements.PCR0,
					PCR1: built.Measurements.PCR1,
					PCR2: built.Measurements.PCR2,
					PCR8: built.Measurements.PCR8,
				}); err != nil {
					return exitWith(exitcode.IOErr, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "built %s (eif: %s)\n", validated.EnclaveName, built.EIFPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "enclave.toml", "path to enclave.toml")
	cmd.Flags().StringVar(&contextDir, "context", ".", "build context directory")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the builder's layer cache")
	cmd.Flags().BoolVar(&reproducible, "reproducible", false, "use the pinned, reproducible build mode")
	cmd.Flags().BoolVar(&keepOutput, "keep-output", false, "retain the scratch output directory instead of deleting it")

	return cmd
}

// exitWith logs err and sets the process exit code without terminating
// immediately, so deferred cleanup (scratch dirs, zip files) still runs.
func exitWith(code int, err error) error {
	log.L().WithError(err).Error("enclave: command failed")
	processExitCode = code
	return err
}

var processExitCode int

// ExitCode returns the exit code the last failing command requested, or 0.
func ExitCode() int {
	if processExitCode != 0 {
		return processExitCode
	}
	return 0
}
