package enclave

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/describe"
	"github.com/evervault/enclave-cli/internal/exitcode"
)

func newDescribeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "describe <eif-path>",
		Short: "Recover measurements from an existing EIF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			measurements, err := describe.Describe(cmd.Context(), args[0])
			if err != nil {
				return exitWith(exitcode.Software, err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(measurements)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "PCR0: %s\nPCR1: %s\nPCR2: %s\n", measurements.PCR0, measurements.PCR1, measurements.PCR2)
			if measurements.PCR8 != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "PCR8: %s\n", measurements.PCR8)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print measurements as JSON")
	return cmd
}
