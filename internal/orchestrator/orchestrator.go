// Package orchestrator drives the build transform, writes the processed
// Dockerfile to a scratch directory, invokes the external container
// builder, then invokes the enclave conversion tool to produce an EIF and
// its measurements.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/evervault/enclave-cli/internal/describe"
	"github.com/evervault/enclave-cli/internal/dockerfile"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/log"
	"github.com/evervault/enclave-cli/internal/scratch"
	"github.com/evervault/enclave-cli/internal/subprocess"
	"github.com/evervault/enclave-cli/internal/transform"
)

// BuilderDaemon and ErrDaemonNotRunning are re-exported from
// internal/subprocess, which owns them so internal/describe can gate on
// daemon reachability too without an orchestrator<->describe import cycle.
const BuilderDaemon = subprocess.BuilderDaemon

var ErrDaemonNotRunning = subprocess.ErrDaemonNotRunning

// BuildMode selects between a direct build and a pinned, reproducible one.
type BuildMode int

const (
	BuildStandard BuildMode = iota
	BuildReproducible
)

// BuildOptions gathers everything one build invocation needs beyond the
// validated config itself.
type BuildOptions struct {
	ContextDir       string
	DockerfilePath   string
	ImageTag         string
	Mode             BuildMode
	NoCache          bool
	BuildArgs        map[string]string
	DataPlaneVersion string
	InstallerVersion string
	KeepOutput       bool
	SourceDateEpoch  int64 // 0 means derive from time.Now(), unless SOURCE_DATE_EPOCH is set
}

// BuiltEnclave is the result of a successful build, per spec.md §3.
type BuiltEnclave struct {
	Measurements *describe.Measurements
	EIFPath      string
	OutputDir    string
}

// Build runs the full orchestrator pipeline described in spec.md §4.3.
func Build(ctx context.Context, opts BuildOptions, cfg *enclaveconfig.ValidatedBuildConfig) (*BuiltEnclave, error) {
	if _, err := os.Stat(opts.ContextDir); err != nil {
		return nil, errors.Wrapf(err, "orchestrator: context directory %s", opts.ContextDir)
	}
	if _, err := os.Stat(opts.DockerfilePath); err != nil {
		return nil, errors.Wrapf(err, "orchestrator: dockerfile %s", opts.DockerfilePath)
	}

	dir, err := scratch.New()
	if err != nil {
		return nil, err
	}
	if opts.KeepOutput {
		dir.Retain()
	}
	defer dir.Close()

	if err := subprocess.Reachable(ctx, BuilderDaemon, "info"); err != nil {
		return nil, ErrDaemonNotRunning
	}

	processed, err := runTransform(opts.DockerfilePath, cfg, opts.DataPlaneVersion, opts.InstallerVersion)
	if err != nil {
		return nil, err
	}

	processedPath := filepath.Join(dir.Path(), "ev-user.Dockerfile")
	if err := os.WriteFile(processedPath, []byte(dockerfile.RenderAll(processed)), 0o644); err != nil {
		return nil, errors.Wrapf(err, "orchestrator: writing %s", processedPath)
	}

	if err := runBuild(ctx, opts, processedPath); err != nil {
		return nil, err
	}

	eifPath := filepath.Join(dir.Path(), "enclave.eif")
	measurements, err := runConversion(ctx, opts.ImageTag, eifPath, cfg)
	if err != nil {
		return nil, err
	}

	return &BuiltEnclave{Measurements: measurements, EIFPath: eifPath, OutputDir: dir.Path()}, nil
}

func runTransform(dockerfilePath string, cfg *enclaveconfig.ValidatedBuildConfig, dataPlaneVersion, installerVersion string) ([]dockerfile.Directive, error) {
	f, err := os.Open(dockerfilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "orchestrator: opening %s", dockerfilePath)
	}
	defer f.Close()

	dec := dockerfile.NewDecoder(f)
	var directives []dockerfile.Directive
	for {
		d, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "orchestrator: decoding dockerfile")
		}
		directives = append(directives, d)
	}

	return transform.Transform(directives, cfg, dataPlaneVersion, installerVersion)
}

// runBuild invokes the external container builder, either directly
// (standard mode) or through a pinned, reproducible offline builder.
func runBuild(ctx context.Context, opts BuildOptions, processedPath string) error {
	switch opts.Mode {
	case BuildReproducible:
		return runReproducibleBuild(ctx, opts, processedPath)
	default:
		args := []string{"build", "-f", processedPath, "-t", opts.ImageTag}
		if opts.NoCache {
			args = append(args, "--no-cache")
		}
		for k, v := range opts.BuildArgs {
			args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
		}
		args = append(args, opts.ContextDir)
		_, err := subprocess.Command(ctx, BuilderDaemon, args...)
		return err
	}
}

// runReproducibleBuild copies the processed Dockerfile into the user's
// context directory (deliberately not scratch-scoped: the builder must see
// it there) and invokes a pinned, offline builder with a deterministic
// SOURCE_DATE_EPOCH.
func runReproducibleBuild(ctx context.Context, opts BuildOptions, processedPath string) error {
	destPath := filepath.Join(opts.ContextDir, "ev-user.Dockerfile")
	data, err := os.ReadFile(processedPath)
	if err != nil {
		return errors.Wrap(err, "orchestrator: reading processed dockerfile")
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "orchestrator: writing %s", destPath)
	}

	epoch := opts.SourceDateEpoch
	if raw := os.Getenv("SOURCE_DATE_EPOCH"); raw != "" {
		fmt.Sscanf(raw, "%d", &epoch)
	} else if epoch == 0 {
		epoch = time.Now().Unix()
	}

	log.L().WithField("source_date_epoch", epoch).Info("orchestrator: running reproducible build")

	args := []string{
		"run", "--rm",
		"-v", opts.ContextDir + ":/workspace",
		"-e", fmt.Sprintf("SOURCE_DATE_EPOCH=%d", epoch),
		"gcr.io/kaniko-project/executor:latest",
		"--dockerfile=/workspace/ev-user.Dockerfile",
		"--context=dir:///workspace",
		"--destination=" + opts.ImageTag,
		"--reproducible",
	}
	_, err := subprocess.Command(ctx, BuilderDaemon, args...)
	return err
}

func runConversion(ctx context.Context, imageTag, eifPath string, cfg *enclaveconfig.ValidatedBuildConfig) (*describe.Measurements, error) {
	args := []string{"build", "--image", imageTag, "--output", eifPath}
	if cfg.Signing.CertPath != "" {
		args = append(args, "--cert-path", cfg.Signing.CertPath, "--key-path", cfg.Signing.KeyPath)
	}
	out, err := subprocess.Command(ctx, describe.ConversionTool, args...)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: running conversion tool")
	}

	var m describe.Measurements
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, errors.Wrap(err, "orchestrator: parsing measurements")
	}
	return &m, nil
}
