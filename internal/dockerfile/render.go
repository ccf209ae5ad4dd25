package dockerfile

import "strings"

// RenderAll renders a full directive sequence back to Dockerfile text, one
// directive per line, each terminated by LF, matching the processed
// Dockerfile output format from spec.md §6.
func RenderAll(directives []Directive) string {
	var b strings.Builder
	for _, d := range directives {
		b.WriteString(d.Render())
		b.WriteByte('\n')
	}
	return b.String()
}
