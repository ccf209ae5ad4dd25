package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evervault/enclave-cli/internal/api"
	"github.com/evervault/enclave-cli/internal/describe"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/orchestrator"
)

// fakeClient implements api.Client, recording whether GetDeployment was ever
// called with a context lacking a deadline.
type fakeClient struct {
	uploadURL          string
	getDeploymentCalls int
	sawNoDeadline      bool
}

func (c *fakeClient) CreateDeploymentIntent(ctx context.Context, enclaveUUID string, req api.DeploymentIntentRequest) (*api.DeploymentIntent, error) {
	return &api.DeploymentIntent{EnclaveUUID: enclaveUUID, DeploymentUUID: "deployment-1", SignedUploadURL: c.uploadURL}, nil
}

func (c *fakeClient) GetDeployment(ctx context.Context, enclaveUUID, deploymentUUID string) (*api.DeploymentStatus, error) {
	c.getDeploymentCalls++
	if _, ok := ctx.Deadline(); !ok {
		c.sawNoDeadline = true
	}
	return &api.DeploymentStatus{IsFinished: true}, nil
}

func (c *fakeClient) GetAppKeys(ctx context.Context, appUUID string) (*api.AppKeys, error) {
	return nil, nil
}

func (c *fakeClient) DeleteEnclave(ctx context.Context, enclaveUUID string) error {
	return nil
}

// Deploy's build- and deploy-phase poll closures must call GetDeployment
// with the per-phase bounded context, not the unbounded outer ctx, so a
// hung request is actually cancelled at the documented timeout.
func TestDeploy_PollUsesPerPhaseDeadline(t *testing.T) {
	dir := t.TempDir()
	eifPath := filepath.Join(dir, "enclave.eif")
	if err := os.WriteFile(eifPath, []byte("fake eif bytes"), 0o644); err != nil {
		t.Fatalf("writing fake eif: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &fakeClient{uploadURL: srv.URL}
	opts := Options{
		Built:  &orchestrator.BuiltEnclave{EIFPath: eifPath, OutputDir: dir, Measurements: &describe.Measurements{PCR0: "aa"}},
		Config: &enclaveconfig.ValidatedBuildConfig{EnclaveUUID: "enclave-uuid"},
	}

	state, err := Deploy(context.Background(), client, opts)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if state != StateReady {
		t.Errorf("state = %v, want StateReady", state)
	}
	if client.getDeploymentCalls == 0 {
		t.Fatal("expected GetDeployment to be called")
	}
	if client.sawNoDeadline {
		t.Error("GetDeployment was called with a context with no deadline; poll closures must use buildCtx/deployCtx")
	}
}

func TestPollUntil_CompletesImmediately(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), "test", func() (PollOutcome, string, error) {
		calls++
		return PollComplete, "", nil
	})
	if err != nil {
		t.Fatalf("pollUntil: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestPollUntil_FailedIsTerminal(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), "test", func() (PollOutcome, string, error) {
		calls++
		return PollFailed, "remote build error", nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a terminal failure, got %d", calls)
	}
}

func TestPollUntil_TimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pollUntil(ctx, "test", func() (PollOutcome, string, error) {
		return PollNoOp, "", nil
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	to, ok := err.(*TimedOutError)
	if !ok {
		t.Fatalf("expected *TimedOutError, got %T: %v", err, err)
	}
	if to.Operation != "test" {
		t.Errorf("Operation = %q", to.Operation)
	}
}

func TestPollUntil_RetriesThroughNoOp(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), "test", func() (PollOutcome, string, error) {
		calls++
		if calls < 2 {
			return PollNoOp, "", nil
		}
		return PollComplete, "", nil
	})
	if err != nil {
		t.Fatalf("pollUntil: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestClassifyPollError(t *testing.T) {
	outcome, _, err := classifyPollError(&api.StatusError{Code: http.StatusBadGateway})
	if err != nil || outcome != PollNoOp {
		t.Errorf("expected a retryable status to classify as NoOp, got %v/%v", outcome, err)
	}

	outcome, detail, err := classifyPollError(&api.StatusError{Code: http.StatusNotFound, Body: "gone"})
	if err != nil || outcome != PollFailed || detail == "" {
		t.Errorf("expected NotFound to classify as Failed, got %v/%q/%v", outcome, detail, err)
	}
}

func TestZipArtifact(t *testing.T) {
	dir := t.TempDir()
	eifPath := filepath.Join(dir, "enclave.eif")
	if err := os.WriteFile(eifPath, []byte("fake eif bytes"), 0o644); err != nil {
		t.Fatalf("writing fake eif: %v", err)
	}

	built := &orchestrator.BuiltEnclave{EIFPath: eifPath, OutputDir: dir}
	zipPath, size, err := zipArtifact(built)
	if err != nil {
		t.Fatalf("zipArtifact: %v", err)
	}
	if size == 0 {
		t.Error("expected a non-zero zip size")
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Errorf("expected zip file to exist: %v", err)
	}
}

func TestUpload_NonSuccessStatusBecomesUploadError(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "artifact.zip")
	if err := os.WriteFile(zipPath, []byte("zip bytes"), 0o644); err != nil {
		t.Fatalf("writing fake zip: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := upload(context.Background(), zipPath, 9, srv.URL)
	if err == nil {
		t.Fatal("expected an UploadError")
	}
	if _, ok := err.(*UploadError); !ok {
		t.Fatalf("expected *UploadError, got %T: %v", err, err)
	}
}

func TestUpload_Success(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "artifact.zip")
	if err := os.WriteFile(zipPath, []byte("zip bytes"), 0o644); err != nil {
		t.Fatalf("writing fake zip: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := upload(context.Background(), zipPath, 9, srv.URL); err != nil {
		t.Fatalf("upload: %v", err)
	}
}
