package enclave

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/evervault/enclave-cli/internal/exitcode"
)

func TestBuildCmd_MissingConfigSetsNoInputExitCode(t *testing.T) {
	processExitCode = 0
	cmd := newBuildCmd()
	cmd.SetArgs([]string{"--config", "/nonexistent/enclave.toml"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if ExitCode() != exitcode.NoInput {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(), exitcode.NoInput)
	}
}

func TestBuildCmd_InvalidConfigSetsDataErrExitCode(t *testing.T) {
	processExitCode = 0
	dir := t.TempDir()
	configPath := dir + "/enclave.toml"
	if err := os.WriteFile(configPath, []byte(`name = "my-enclave"`), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cmd := newBuildCmd()
	cmd.SetArgs([]string{"--config", configPath})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatal("expected a validation error for an incomplete config")
	}
	if ExitCode() != exitcode.DataErr {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(), exitcode.DataErr)
	}
}
