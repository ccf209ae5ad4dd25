package main

import (
	"context"
	"os"

	"github.com/evervault/enclave-cli/cmd/enclave"
)

func main() {
	root := enclave.Execute()
	if err := root.ExecuteContext(context.Background()); err != nil {
		code := enclave.ExitCode()
		if code == 0 {
			code = 1
		}
		os.Exit(code)
	}
}
