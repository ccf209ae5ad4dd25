// Package dockerfile implements the decoder, directive model, and renderer
// for the subset of Dockerfile syntax the enclave build pipeline understands.
package dockerfile

import (
	"strconv"
	"strings"
)

// Mode distinguishes the two argument forms CMD and ENTRYPOINT can take.
type Mode int

const (
	// ModeShell is the space-separated form: CMD echo hello
	ModeShell Mode = iota
	// ModeExec is the JSON-array form: CMD ["echo", "hello"]
	ModeExec
)

// ModeFromFirstByte derives a Mode from the first non-space byte of a
// directive's arguments: '[' means exec form, anything else means shell form.
func ModeFromFirstByte(b byte) Mode {
	if b == '[' {
		return ModeExec
	}
	return ModeShell
}

// Delimiter records how an ENV directive's key/value pair was separated.
type Delimiter int

const (
	// DelimiterNone is the legacy `ENV KEY VALUE` form (at most one pair per line).
	DelimiterNone Delimiter = iota
	// DelimiterEq is the `KEY=VALUE` form (one or more pairs per line).
	DelimiterEq
)

// EnvVar is a single key/value pair from an ENV directive.
type EnvVar struct {
	Key       string
	Value     string
	Delimiter Delimiter
}

func (e EnvVar) render() string {
	if e.Delimiter == DelimiterEq {
		return e.Key + "=" + e.Value
	}
	return e.Key + " " + e.Value
}

// Directive is the closed set of Dockerfile instructions the pipeline
// understands. The unexported marker method keeps the set closed to this
// package, the idiomatic Go analogue of a closed sum type.
type Directive interface {
	directiveMarker()
	// Render returns the directive rendered back to a single Dockerfile line,
	// without a trailing newline.
	Render() string
}

// AddDirective models `ADD <source_url> <destination_path>`.
type AddDirective struct {
	SourceURL       string
	DestinationPath string
}

func (AddDirective) directiveMarker() {}
func (d AddDirective) Render() string {
	return "ADD " + d.SourceURL + " " + d.DestinationPath
}

// CommentDirective models a `#` comment line.
type CommentDirective struct {
	Text string
}

func (CommentDirective) directiveMarker() {}
func (d CommentDirective) Render() string {
	return "#" + d.Text
}

// EntrypointDirective models `ENTRYPOINT`.
type EntrypointDirective struct {
	Mode   *Mode
	Tokens []string
}

func (EntrypointDirective) directiveMarker() {}
func (d EntrypointDirective) Render() string {
	return "ENTRYPOINT " + renderExecOrShellTokens(d.Mode, d.Tokens)
}

// CmdDirective models `CMD`.
type CmdDirective struct {
	Mode   *Mode
	Tokens []string
}

func (CmdDirective) directiveMarker() {}
func (d CmdDirective) Render() string {
	return "CMD " + renderExecOrShellTokens(d.Mode, d.Tokens)
}

func renderExecOrShellTokens(mode *Mode, tokens []string) string {
	if mode != nil && *mode == ModeExec {
		quoted := make([]string, len(tokens))
		for i, t := range tokens {
			quoted[i] = "\"" + t + "\""
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	}
	return strings.Join(tokens, " ")
}

// ExposeDirective models `EXPOSE <port>`.
type ExposeDirective struct {
	Port *uint16
}

func (ExposeDirective) directiveMarker() {}
func (d ExposeDirective) Render() string {
	if d.Port == nil {
		return "EXPOSE"
	}
	return "EXPOSE " + strconv.FormatUint(uint64(*d.Port), 10)
}

// RunDirective models a `RUN` instruction, stored verbatim.
type RunDirective struct {
	Arguments string
}

func (RunDirective) directiveMarker() {}
func (d RunDirective) Render() string { return "RUN " + d.Arguments }

// UserDirective models a `USER` instruction, stored verbatim.
type UserDirective struct {
	Arguments string
}

func (UserDirective) directiveMarker() {}
func (d UserDirective) Render() string { return "USER " + d.Arguments }

// EnvDirective models `ENV`, one or more key/value pairs on a single line.
type EnvDirective struct {
	Vars []EnvVar
}

func (EnvDirective) directiveMarker() {}
func (d EnvDirective) Render() string {
	parts := make([]string, len(d.Vars))
	for i, v := range d.Vars {
		parts[i] = v.render()
	}
	return "ENV " + strings.Join(parts, " ")
}

// FromDirective models `FROM`, stored verbatim.
type FromDirective struct {
	Arguments string
}

func (FromDirective) directiveMarker() {}
func (d FromDirective) Render() string { return "FROM " + d.Arguments }

// OtherDirective models any directive outside the understood subset
// (COPY, WORKDIR, LABEL, ARG, ...), stored verbatim.
type OtherDirective struct {
	Name      string
	Arguments string
}

func (OtherDirective) directiveMarker() {}
func (d OtherDirective) Render() string { return d.Name + " " + d.Arguments }
