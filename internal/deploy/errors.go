package deploy

import "fmt"

// TimedOutError is returned when a phase exceeds its bound, per spec.md §4.4.
type TimedOutError struct {
	Operation string
	Elapsed   float64 // seconds
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("deploy: %s timed out after %.1fs", e.Operation, e.Elapsed)
}

// UploadError is returned when the pre-signed PUT returns a non-2xx status.
type UploadError struct {
	StatusCode int
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("deploy: upload failed with status %d", e.StatusCode)
}

// BuildFailedError surfaces the remote build failure reason.
type BuildFailedError struct {
	Reason string
}

func (e *BuildFailedError) Error() string { return "deploy: build failed: " + e.Reason }

// DeployFailedError surfaces the remote deployment failure reason.
type DeployFailedError struct {
	Reason string
}

func (e *DeployFailedError) Error() string { return "deploy: deployment failed: " + e.Reason }
