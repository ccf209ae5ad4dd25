package enclave

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/api"
	"github.com/evervault/enclave-cli/internal/crypto"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/exitcode"
)

func newEncryptCmd() *cobra.Command {
	var configPath string
	var secp256k1 bool

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value against the app's public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := enclaveconfig.Load(configPath)
			if err != nil {
				return exitWith(exitcode.NoInput, err)
			}
			validated, err := cfgFile.Validate()
			if err != nil {
				return exitWith(exitcode.DataErr, err)
			}

			curve := crypto.CurveP256
			if secp256k1 {
				curve = crypto.CurveSecp256k1
			}

			client := api.New(validated.APIURL, api.AuthNone, "")
			ciphertext, err := crypto.Encrypt(cmd.Context(), client, validated.AppUUID, curve, []byte(args[0]))
			if err != nil {
				return exitWith(exitcode.Software, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "enclave.toml", "path to enclave.toml")
	cmd.Flags().BoolVar(&secp256k1, "secp256k1", false, "use the secp256k1 curve (unsupported, documented narrowing)")

	return cmd
}
