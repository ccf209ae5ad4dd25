// Package scratch manages the scoped scratch directory a build owns for its
// lifetime: acquired with os.MkdirTemp, released via deferred os.RemoveAll
// on all exit paths unless the caller explicitly retains it.
package scratch

import (
	"os"

	"github.com/pkg/errors"
)

// Dir is a scratch directory scoped to one build. Call Close to release it
// (a no-op if Retain was called).
type Dir struct {
	path     string
	retained bool
}

// New acquires a fresh scratch directory under the system temp root.
func New() (*Dir, error) {
	path, err := os.MkdirTemp("", "enclave-build-*")
	if err != nil {
		return nil, errors.Wrap(err, "scratch: creating directory")
	}
	return &Dir{path: path}, nil
}

// Path returns the scratch directory's filesystem path.
func (d *Dir) Path() string { return d.path }

// Retain marks the directory to survive past Close, for --keep-output.
func (d *Dir) Retain() { d.retained = true }

// Close removes the scratch directory unless it has been retained.
func (d *Dir) Close() error {
	if d.retained {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return errors.Wrapf(err, "scratch: removing %s", d.path)
	}
	return nil
}
