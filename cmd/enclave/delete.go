package enclave

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/api"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/exitcode"
)

func newDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a deployed enclave",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := enclaveconfig.Load(configPath)
			if err != nil {
				return exitWith(exitcode.NoInput, err)
			}
			validated, err := cfgFile.Validate()
			if err != nil {
				return exitWith(exitcode.DataErr, err)
			}

			client := api.New(validated.APIURL, authMode(validated), authToken(validated))
			if err := client.DeleteEnclave(cmd.Context(), validated.EnclaveUUID); err != nil {
				return exitWith(exitcode.Unavailable, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", validated.EnclaveName)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "enclave.toml", "path to enclave.toml")
	return cmd
}
