package enclave

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/exitcode"
)

func newConfigureCmd() *cobra.Command {
	var configPath string
	var name string
	var dockerfile string
	var certPath string
	var keyPath string
	var egressEnabled bool
	var tlsTermination bool

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Generate a new enclave.toml for a fresh enclave",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return exitWith(exitcode.DataErr, fmt.Errorf("configure: %s already exists", configPath))
			}

			cfg := enclaveconfig.EnclaveConfig{
				EnclaveName: name,
				EnclaveUUID: uuid.NewString(),
				AppUUID:     uuid.NewString(),
				TeamUUID:    uuid.NewString(),
				Dockerfile:  dockerfile,
				Egress:      enclaveconfig.EgressSettings{Enabled: egressEnabled},
				Signing: enclaveconfig.SigningInfo{
					CertPath: certPath,
					KeyPath:  keyPath,
				},
				TLSTermination: tlsTermination,
			}

			out, err := toml.Marshal(&cfg)
			if err != nil {
				return exitWith(exitcode.Software, err)
			}
			if err := os.WriteFile(configPath, out, 0o644); err != nil {
				return exitWith(exitcode.IOErr, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for enclave %s\n", configPath, cfg.EnclaveUUID)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "enclave.toml", "path to write")
	cmd.Flags().StringVar(&name, "name", "", "enclave name")
	cmd.Flags().StringVar(&dockerfile, "dockerfile", "Dockerfile", "path to the source Dockerfile")
	cmd.Flags().StringVar(&certPath, "cert", "", "path to the signing certificate")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to the signing key")
	cmd.Flags().BoolVar(&egressEnabled, "egress", false, "enable data-plane egress")
	cmd.Flags().BoolVar(&tlsTermination, "tls-termination", true, "terminate TLS at the data-plane")
	cmd.MarkFlagRequired("name")

	return cmd
}
