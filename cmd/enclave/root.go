// Package enclave implements the enclave-cli command tree: build, deploy,
// describe, delete, configure, encrypt.
package enclave

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/evervault/enclave-cli/internal/log"
	"github.com/evervault/enclave-cli/internal/transform"
)

// Execute builds the root cobra command, the thin bootstrap main.go calls.
func Execute() *cobra.Command {
	root := &cobra.Command{
		Use:   "enclave",
		Short: "Build, deploy, and manage confidential-computing enclave images",
	}

	log.Configure()
	if domain := os.Getenv("EV_DOMAIN"); domain != "" {
		transform.SetDomainOverride(domain)
	}

	root.AddCommand(
		newBuildCmd(),
		newDeployCmd(),
		newDescribeCmd(),
		newDeleteCmd(),
		newConfigureCmd(),
		newEncryptCmd(),
	)

	return root
}
