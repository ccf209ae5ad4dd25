// Package deploy implements the deploy state machine: zip the built EIF,
// upload it to pre-signed storage, request a remote deployment, then poll
// build and deploy status to completion or a bounded timeout.
package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"

	"github.com/evervault/enclave-cli/internal/api"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/log"
	"github.com/evervault/enclave-cli/internal/orchestrator"
)

// DefaultDeployTimeout bounds the Deploying -> Ready phase, per spec.md §4.4.
const DefaultDeployTimeout = 1200 * time.Second

// DefaultBuildTimeout bounds the BuildRequested -> Building phase. Longer
// than or equal to the deploy timeout, per spec.md §4.4.
const DefaultBuildTimeout = 1200 * time.Second

const pollInterval = 5 * time.Second

// StatusReporter receives progress updates as the state machine advances.
// The only UI-side shared sink, write-only, per spec.md §5.
type StatusReporter interface {
	Report(state State, detail string)
}

// noopReporter discards status updates; used when the caller passes nil.
type noopReporter struct{}

func (noopReporter) Report(State, string) {}

// Options gathers the inputs one deploy invocation needs.
type Options struct {
	Built           *orchestrator.BuiltEnclave
	Config          *enclaveconfig.ValidatedBuildConfig
	GitHash         string
	SourceDateEpoch int64
	Reporter        StatusReporter
}

// Deploy drives the full state machine described in spec.md §4.4, returning
// the final State (StateReady on success) or an error.
func Deploy(ctx context.Context, client api.Client, opts Options) (State, error) {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = noopReporter{}
	}

	reporter.Report(StateZippingArtifact, "")
	zipPath, size, err := zipArtifact(opts.Built)
	if err != nil {
		return StateZippingArtifact, err
	}

	reporter.Report(StateUploading, "")
	intent, err := client.CreateDeploymentIntent(ctx, opts.Config.EnclaveUUID, api.DeploymentIntentRequest{
		Measurements:    opts.Built.Measurements,
		SizeBytes:       size,
		GitHash:         opts.GitHash,
		SourceDateEpoch: opts.SourceDateEpoch,
		DesiredReplicas: desiredReplicas(opts.Config),
	})
	if err != nil {
		return StateUploading, errors.Wrap(err, "deploy: requesting deployment intent")
	}

	if err := upload(ctx, zipPath, size, intent.SignedUploadURL); err != nil {
		return StateUploading, err
	}
	os.Remove(zipPath)

	reporter.Report(StateBuildRequested, "")
	reporter.Report(StateBuilding, "")
	buildCtx, buildCancel := context.WithTimeout(ctx, DefaultBuildTimeout)
	defer buildCancel()
	if err := pollUntil(buildCtx, "build", func() (PollOutcome, string, error) {
		status, err := client.GetDeployment(buildCtx, opts.Config.EnclaveUUID, intent.DeploymentUUID)
		if err != nil {
			return classifyPollError(err)
		}
		if status.IsFailed {
			return PollFailed, status.FailureReason, nil
		}
		if status.IsFinished {
			return PollComplete, "", nil
		}
		if status.DetailedStatus != "" {
			return PollUpdate, status.DetailedStatus, nil
		}
		return PollNoOp, "", nil
	}); err != nil {
		if to, ok := err.(*TimedOutError); ok {
			to.Operation = "build"
			return StateTimedOut, to
		}
		return StateBuildFailed, &BuildFailedError{Reason: err.Error()}
	}

	reporter.Report(StateDeploying, "")
	deployCtx, deployCancel := context.WithTimeout(ctx, DefaultDeployTimeout)
	defer deployCancel()
	if err := pollUntil(deployCtx, "deploy", func() (PollOutcome, string, error) {
		status, err := client.GetDeployment(deployCtx, opts.Config.EnclaveUUID, intent.DeploymentUUID)
		if err != nil {
			return classifyPollError(err)
		}
		if status.IsFailed {
			return PollFailed, status.FailureReason, nil
		}
		if status.IsFinished {
			return PollComplete, "", nil
		}
		if status.DetailedStatus != "" {
			reporter.Report(StateDeploying, status.DetailedStatus)
			return PollUpdate, status.DetailedStatus, nil
		}
		return PollNoOp, "", nil
	}); err != nil {
		if to, ok := err.(*TimedOutError); ok {
			to.Operation = "deploy"
			return StateTimedOut, to
		}
		return StateDeployFailed, &DeployFailedError{Reason: err.Error()}
	}

	reporter.Report(StateReady, "")
	return StateReady, nil
}

func desiredReplicas(cfg *enclaveconfig.ValidatedBuildConfig) int {
	if cfg.Scaling == nil {
		return 0
	}
	return cfg.Scaling.DesiredReplicas
}

// classifyPollError maps a transport/API error to a poll outcome: only
// api.StatusError's Unknown class and raw transport errors are treated as
// transient (NoOp); everything else is a terminal Failed.
func classifyPollError(err error) (PollOutcome, string, error) {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) && statusErr.Retryable() {
		return PollNoOp, "", nil
	}
	if errors.As(err, &statusErr) {
		return PollFailed, statusErr.Error(), nil
	}
	// A raw network/transport error: treat as transient too.
	return PollNoOp, "", nil
}

// pollFunc is the closure contract from spec.md §4.4: it receives no
// arguments (all state needed to classify the current attempt is closed
// over) and returns one of Complete/Failed/Update/NoOp.
type pollFunc func() (PollOutcome, string, error)

// pollUntil drives pollFunc on a bounded interval via backoff.Retry until it
// reports Complete (success), Failed (terminal error), or ctx is done
// (TimedOutError). This is the only place remote deployment state is
// interpreted, per spec.md §9's "Polling loop" design note.
func pollUntil(ctx context.Context, operation string, fn pollFunc) error {
	started := time.Now()

	b := backoff.NewConstantBackOff(pollInterval)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		outcome, detail, err := fn()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		switch outcome {
		case PollComplete:
			return struct{}{}, nil
		case PollFailed:
			return struct{}{}, backoff.Permanent(errors.New(detail))
		default:
			log.L().WithField("operation", operation).Debug("deploy: poll NoOp/Update, retrying")
			return struct{}{}, errors.New("deploy: poll not yet complete")
		}
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))

	if err != nil {
		if ctx.Err() != nil {
			return &TimedOutError{Operation: operation, Elapsed: time.Since(started).Seconds()}
		}
		return err
	}
	return nil
}

func zipArtifact(built *orchestrator.BuiltEnclave) (string, int64, error) {
	zipPath := filepath.Join(built.OutputDir, "enclave.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", 0, errors.Wrapf(err, "deploy: creating %s", zipPath)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	eifData, err := os.ReadFile(built.EIFPath)
	if err != nil {
		return "", 0, errors.Wrapf(err, "deploy: reading %s", built.EIFPath)
	}

	header := &zip.FileHeader{Name: filepath.Base(built.EIFPath), Method: zip.Store}
	entry, err := w.CreateHeader(header)
	if err != nil {
		return "", 0, errors.Wrap(err, "deploy: creating zip entry")
	}
	if _, err := entry.Write(eifData); err != nil {
		return "", 0, errors.Wrap(err, "deploy: writing zip entry")
	}
	if err := w.Close(); err != nil {
		return "", 0, errors.Wrap(err, "deploy: closing zip")
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		return "", 0, errors.Wrapf(err, "deploy: stat %s", zipPath)
	}
	return zipPath, info.Size(), nil
}

func upload(ctx context.Context, zipPath string, size int64, signedURL string) error {
	data, err := os.ReadFile(zipPath)
	if err != nil {
		return errors.Wrapf(err, "deploy: reading %s", zipPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "deploy: building upload request")
	}
	req.Header.Set("Content-Type", "application/zip")
	req.ContentLength = size

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "deploy: upload request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UploadError{StatusCode: resp.StatusCode}
	}
	return nil
}
