package dockerfile

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// newlineBehaviour tracks how the next unescaped newline byte should be
// interpreted while accumulating a directive's arguments.
type newlineBehaviour int

const (
	// nlObserve: a raw newline ends the directive.
	nlObserve newlineBehaviour = iota
	// nlEscaped: the previous byte was a backslash; the next newline is a
	// line continuation.
	nlEscaped
	// nlIgnoreLine: we are inside an embedded comment begun by '#' after a
	// continuation; the next newline ends the embedded comment, not the
	// directive.
	nlIgnoreLine
)

// stringToken is a quote character tracked on the decoder's quote stack.
type stringToken byte

const (
	tokSingle stringToken = '\''
	tokDouble stringToken = '"'
)

// stringStack is a tiny stack used to track whether the decoder is inside or
// outside of a quoted string, so that '#' and ' ' inside an unbalanced quote
// are treated as literal characters rather than structural ones.
type stringStack struct {
	tokens []stringToken
}

func (s *stringStack) isEmpty() bool { return len(s.tokens) == 0 }

func (s *stringStack) peek() (stringToken, bool) {
	if len(s.tokens) == 0 {
		return 0, false
	}
	return s.tokens[len(s.tokens)-1], true
}

func (s *stringStack) push(t stringToken) { s.tokens = append(s.tokens, t) }

func (s *stringStack) pop() {
	if len(s.tokens) > 0 {
		s.tokens = s.tokens[:len(s.tokens)-1]
	}
}

// Decoder is a streaming, byte-level tokenizer that consumes a Dockerfile
// byte stream and yields one Directive per logical (continuation-joined)
// line. Call Next repeatedly until it returns io.EOF.
//
// Each call to Next resolves exactly one directive from the underlying
// reader, so no state is carried between calls — the only state that
// matters is internal to a single directive's byte scan, mirroring the
// explicit state-sum the decoder is specified against.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r in a streaming Dockerfile decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next decoded Directive, or io.EOF once the stream is
// exhausted with no partial directive pending. A non-EOF error is never
// accompanied by a valid Directive.
func (d *Decoder) Next() (Directive, error) {
	for {
		b, err := d.r.ReadByte()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, "dockerfile: read")
		}

		switch {
		case isASCIIWhitespace(b):
			continue
		case isASCIIAlpha(b):
			return d.decodeDirective(b)
		case b == '#':
			return d.decodeComment()
		default:
			return nil, ErrUnexpectedToken
		}
	}
}

func isASCIIWhitespace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// decodeComment accumulates bytes until a newline, or EOF, and
// emits a CommentDirective either way (flush never drops a comment).
func (d *Decoder) decodeComment() (Directive, error) {
	var buf strings.Builder
	for {
		b, err := d.r.ReadByte()
		if err == io.EOF {
			return CommentDirective{Text: buf.String()}, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "dockerfile: read")
		}
		if b == '\n' {
			return CommentDirective{Text: buf.String()}, nil
		}
		buf.WriteByte(b)
	}
}

// decodeDirective accumulates the directive keyword until a space, then
// hands off to decodeDirectiveArguments. Any ASCII byte is accepted into the
// keyword; a non-ASCII byte is ErrUnexpectedToken.
func (d *Decoder) decodeDirective(first byte) (Directive, error) {
	var buf strings.Builder
	buf.WriteByte(first)
	for {
		b, err := d.r.ReadByte()
		if err == io.EOF {
			// A keyword with no following space and no arguments at all is
			// an incomplete instruction: there is no way to know it ended.
			return nil, ErrIncompleteInstruction
		}
		if err != nil {
			return nil, errors.Wrap(err, "dockerfile: read")
		}
		if b == ' ' {
			directive, err := newEmptyDirective(buf.String())
			if err != nil {
				return nil, err
			}
			return d.decodeDirectiveArguments(directive)
		}
		if !isASCII(b) {
			return nil, ErrUnexpectedToken
		}
		buf.WriteByte(b)
	}
}

func isASCII(b byte) bool { return b < 0x80 }

// newEmptyDirective constructs the zero-valued variant for a decoded
// keyword, case-insensitively.
func newEmptyDirective(keyword string) (Directive, error) {
	upper := strings.ToUpper(keyword)
	switch upper {
	case "ADD":
		return &AddDirective{}, nil
	case "ENTRYPOINT":
		return &EntrypointDirective{}, nil
	case "CMD":
		return &CmdDirective{}, nil
	case "EXPOSE":
		return &ExposeDirective{}, nil
	case "RUN":
		return &RunDirective{}, nil
	case "USER":
		return &UserDirective{}, nil
	case "ENV":
		return &EnvDirective{}, nil
	case "FROM":
		return &FromDirective{}, nil
	default:
		return &OtherDirective{Name: upper}, nil
	}
}

// decodeDirectiveArguments runs the core argument-accumulation state
// machine described in SPEC_FULL.md §4.1, then parses the accumulated bytes
// according to the directive's own grammar.
func (d *Decoder) decodeDirectiveArguments(directive Directive) (Directive, error) {
	var (
		argBuf       []byte
		haveArgs     bool
		nlBehaviour  = nlObserve
		quotes       stringStack
		modeAssigned bool
	)

	finalize := func() (Directive, error) {
		return finalizeDirective(directive, string(argBuf))
	}

	for {
		b, err := d.r.ReadByte()
		if err == io.EOF {
			if !haveArgs {
				return nil, ErrIncompleteInstruction
			}
			return finalize()
		}
		if err != nil {
			return nil, errors.Wrap(err, "dockerfile: read")
		}

		switch {
		case (b == '\n' || b == '\\') && !haveArgs:
			// A newline or backslash before any argument byte has been seen
			// is malformed input.
			return nil, ErrUnexpectedToken

		case b == '\n' && nlBehaviour != nlObserve:
			// Escaped continuation or inside an embedded comment: the
			// newline is part of the argument text, not a terminator. The
			// ignore-line state persists until the next unescaped '#'
			// resets it to nlObserve below.
			argBuf = append(argBuf, b)

		case b == '\n':
			return finalize()

		case b == '\\':
			switch nlBehaviour {
			case nlEscaped:
				nlBehaviour = nlObserve
			case nlObserve:
				nlBehaviour = nlEscaped
			}
			argBuf = append(argBuf, b)

		case b == ' ' && !haveArgs:
			// Leading spaces before the first argument byte are discarded.
			continue

		case b == '#':
			if quotes.isEmpty() {
				if hasSuffixEscapedNewline(argBuf) {
					nlBehaviour = nlIgnoreLine
				} else {
					nlBehaviour = nlObserve
				}
			}
			if !haveArgs {
				haveArgs = true
			}
			argBuf = append(argBuf, b)

		default:
			if !haveArgs {
				if !modeAssigned {
					setModeIfApplicable(directive, b)
					modeAssigned = true
				}
				haveArgs = true
			}
			argBuf = append(argBuf, b)

			if nlBehaviour == nlEscaped {
				nlBehaviour = nlObserve
			}

			if b == '\'' || b == '"' {
				tok := stringToken(b)
				if top, ok := quotes.peek(); ok && top == tok {
					quotes.pop()
				} else {
					quotes.push(tok)
				}
			}
		}
	}
}

func hasSuffixEscapedNewline(buf []byte) bool {
	return len(buf) >= 2 && buf[len(buf)-2] == '\\' && buf[len(buf)-1] == '\n'
}

func setModeIfApplicable(directive Directive, firstByte byte) {
	mode := ModeFromFirstByte(firstByte)
	switch t := directive.(type) {
	case *EntrypointDirective:
		t.Mode = &mode
	case *CmdDirective:
		t.Mode = &mode
	}
}

// finalizeDirective parses the accumulated raw argument bytes into the
// directive's own grammar and returns the fully-populated, de-referenced
// Directive value.
func finalizeDirective(directive Directive, raw string) (Directive, error) {
	switch directive.(type) {
	case *EntrypointDirective, *CmdDirective, *EnvDirective, *AddDirective:
		if !utf8.ValidString(raw) {
			return nil, ErrInvalidUTF8
		}
	}
	switch t := directive.(type) {
	case *EntrypointDirective:
		tokens, err := parseExecOrShellTokens(t.Mode, raw)
		if err != nil {
			return nil, err
		}
		t.Tokens = tokens
		return *t, nil
	case *CmdDirective:
		tokens, err := parseExecOrShellTokens(t.Mode, raw)
		if err != nil {
			return nil, err
		}
		t.Tokens = tokens
		return *t, nil
	case *ExposeDirective:
		port, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
		if err != nil {
			return nil, ErrInvalidExposedPort
		}
		p := uint16(port)
		t.Port = &p
		return *t, nil
	case *EnvDirective:
		vars, err := parseEnvArguments(raw)
		if err != nil {
			return nil, err
		}
		t.Vars = vars
		return *t, nil
	case *RunDirective:
		t.Arguments = raw
		return *t, nil
	case *UserDirective:
		t.Arguments = raw
		return *t, nil
	case *FromDirective:
		t.Arguments = raw
		return *t, nil
	case *AddDirective:
		return finalizeAdd(raw)
	case *OtherDirective:
		t.Arguments = raw
		return *t, nil
	default:
		return nil, ErrUnexpectedToken
	}
}

func finalizeAdd(raw string) (Directive, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return nil, ErrIncompleteInstruction
	}
	return AddDirective{SourceURL: fields[0], DestinationPath: fields[1]}, nil
}

// parseExecOrShellTokens implements §4.1's CMD/ENTRYPOINT argument grammar.
func parseExecOrShellTokens(mode *Mode, raw string) ([]string, error) {
	if mode == nil {
		return nil, ErrIncompleteInstruction
	}
	if *mode == ModeExec {
		trimmed := strings.TrimSpace(raw)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		if strings.TrimSpace(trimmed) == "" {
			return []string{}, nil
		}
		parts := strings.Split(trimmed, ",")
		tokens := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			p = strings.TrimPrefix(p, `"`)
			p = strings.TrimSuffix(p, `"`)
			tokens = append(tokens, p)
		}
		return tokens, nil
	}
	fields := strings.Split(raw, " ")
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens, nil
}

// parseEnvArguments implements the ENV directive's two-phase tokenizer
// described in §4.1: scan preserving quotes/escapes and tracking whether an
// unescaped '=' was seen anywhere on the line.
func parseEnvArguments(raw string) ([]EnvVar, error) {
	tokens, sawEq := tokenizeEnvLine(raw)

	if !sawEq {
		if len(tokens) < 2 {
			return nil, ErrIncompleteInstruction
		}
		return []EnvVar{{
			Key:       tokens[0],
			Value:     strings.Join(tokens[1:], " "),
			Delimiter: DelimiterNone,
		}}, nil
	}

	vars := make([]EnvVar, 0, len(tokens))
	for _, tok := range tokens {
		idx := strings.Index(tok, "=")
		if idx < 0 {
			return nil, ErrIncompleteInstruction
		}
		vars = append(vars, EnvVar{
			Key:       tok[:idx],
			Value:     tok[idx+1:],
			Delimiter: DelimiterEq,
		})
	}
	return vars, nil
}

func tokenizeEnvLine(raw string) ([]string, bool) {
	var (
		tokens   []string
		current  strings.Builder
		inQuotes bool
		escape   bool
		sawEq    bool
	)

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, c := range raw {
		switch {
		case escape:
			escape = false
			current.WriteRune(c)
		case c == '\\':
			escape = true
			current.WriteRune(c)
		case c == '"':
			inQuotes = !inQuotes
			current.WriteRune(c)
		case c == ' ' && inQuotes:
			current.WriteRune(c)
		case c == ' ' && !inQuotes:
			flush()
		case c == '=' && !inQuotes:
			sawEq = true
			current.WriteRune(c)
		default:
			current.WriteRune(c)
		}
	}
	flush()

	return tokens, sawEq
}
