package dockerfile

import "github.com/pkg/errors"

// Decoder error taxonomy. None of these are retried by callers; they are
// surfaced directly per SPEC_FULL.md §7.
var (
	// ErrUnexpectedToken is returned when a byte appears where the grammar
	// does not allow it (e.g. a non-letter, non-'#', non-whitespace byte at
	// the start of a line, or a bare newline/backslash before any argument
	// byte has been seen).
	ErrUnexpectedToken = errors.New("dockerfile: unexpected token")

	// ErrInvalidUTF8 is returned when directive bytes cannot be decoded as UTF-8.
	ErrInvalidUTF8 = errors.New("dockerfile: invalid utf-8")

	// ErrIncompleteInstruction is returned when a directive is missing
	// required arguments (ADD with fewer than two tokens, ENV with a bare
	// key and no value, a directive keyword with no arguments at all, or a
	// keyword cut off before a following space).
	ErrIncompleteInstruction = errors.New("dockerfile: incomplete instruction")

	// ErrInvalidExposedPort is returned when an EXPOSE argument does not
	// parse as an unsigned 16-bit integer.
	ErrInvalidExposedPort = errors.New("dockerfile: invalid exposed port")
)
