package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoEntrypoint is returned when the input directive sequence contains
// neither an ENTRYPOINT nor a CMD to combine into the enclave's runtime
// command.
var ErrNoEntrypoint = errors.New("transform: no entrypoint or cmd present")

// RestrictedPortError is returned when the input EXPOSE's port is 443, the
// one port the data-plane reserves for its own TLS listener.
type RestrictedPortError struct {
	Port uint16
}

func (e *RestrictedPortError) Error() string {
	return fmt.Sprintf("transform: restricted port exposed: %d", e.Port)
}
