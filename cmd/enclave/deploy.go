package enclave

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/api"
	"github.com/evervault/enclave-cli/internal/deploy"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/exitcode"
	"github.com/evervault/enclave-cli/internal/orchestrator"
)

// cliReporter prints deploy state transitions to stdout as they happen.
type cliReporter struct{ cmd *cobra.Command }

func (r cliReporter) Report(state deploy.State, detail string) {
	if detail != "" {
		fmt.Fprintf(r.cmd.OutOrStdout(), "[%s] %s\n", state, detail)
	} else {
		fmt.Fprintf(r.cmd.OutOrStdout(), "[%s]\n", state)
	}
}

func newDeployCmd() *cobra.Command {
	var configPath string
	var contextDir string
	var eifPath string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build (if needed) and deploy an enclave",
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

			dir := outputDir
			if dir == "" {
				dir = filepath.Dir(eifPath)
			}
			built := &orchestrator.BuiltEnclave{EIFPath: eifPath, OutputDir: dir}
			if eifPath == "" {
				b, err := orchestrator.Build(ctx, orchestrator.BuildOptions{
					ContextDir:       contextDir,
					DockerfilePath:   validated.DockerfilePath,
					ImageTag:         validated.EnclaveName + ":latest",
					DataPlaneVersion: validated.DataPlaneVersion,
					InstallerVersion: validated.InstallerVersion,
					KeepOutput:       true,
				}, validated)
				if err != nil {
					return exitWith(exitcode.Software, err)
				}
				built = b
			}

			client := api.New(validated.APIURL, authMode(validated), authToken(validated))

			state, err := deploy.Deploy(ctx, client, deploy.Options{
				Built:    built,
				Config:   validated,
				Reporter: cliReporter{cmd: cmd},
			})
			if err != nil {
				return exitWith(exitcode.Unavailable, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deploy finished in state %s\n", state)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "enclave.toml", "path to enclave.toml")
	cmd.Flags().StringVar(&contextDir, "context", ".", "build context directory (used when --eif is not supplied)")
	cmd.Flags().StringVar(&eifPath, "eif", "", "path to a previously built EIF (skips the build step)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "scratch directory containing --eif, if not its parent")

	return cmd
}

func authMode(cfg *enclaveconfig.ValidatedBuildConfig) api.AuthMode {
	if cfg.APIKeyAuth {
		return api.AuthAPIKey
	}
	if cfg.BearerToken != "" {
		return api.AuthBearer
	}
	return api.AuthNone
}

func authToken(cfg *enclaveconfig.ValidatedBuildConfig) string {
	if cfg.APIKeyAuth {
		return cfg.APIKey
	}
	return cfg.BearerToken
}
