// Package shellscript quotes and joins shell tokens for the command line the
// transform places in its injected user-entrypoint script, including the
// combination of an exec-form ENTRYPOINT and CMD into a single shell command
// line, quoting tokens the way a shell would need them quoted. The injected
// scripts themselves are assembled in internal/transform.
package shellscript

import "strings"

// needsQuoting reports whether tok contains a byte that is not safe to leave
// unquoted in a POSIX shell command line, scanning byte by byte to decide
// whether a token needs a quote pair.
func needsQuoting(tok string) bool {
	if tok == "" {
		return true
	}
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '/' || c == ':' || c == '=' || c == ',':
		default:
			return true
		}
	}
	return false
}

// QuoteIfNeeded wraps tok in single quotes, escaping any embedded single
// quote, if it contains a shell-special byte. Plain tokens are returned as-is.
func QuoteIfNeeded(tok string) string {
	if !needsQuoting(tok) {
		return tok
	}
	return "'" + strings.ReplaceAll(tok, "'", `'\''`) + "'"
}

// JoinShellTokens renders tokens as a single shell command line, quoting
// each token that needs it.
func JoinShellTokens(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = QuoteIfNeeded(t)
	}
	return strings.Join(quoted, " ")
}

// CombineExecTokens implements the exec-form branch of the build transform's
// entrypoint/cmd combination: entrypoint tokens, then cmd tokens, joined as
// one shell command line with each token quoted as needed. The shell-form
// and single-directive branches are handled by the transform's combine.
func CombineExecTokens(entrypointTokens, cmdTokens []string) string {
	all := make([]string, 0, len(entrypointTokens)+len(cmdTokens))
	all = append(all, entrypointTokens...)
	all = append(all, cmdTokens...)
	return JoinShellTokens(all)
}
