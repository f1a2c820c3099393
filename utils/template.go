package utils

import (
	"fmt"
	"strings"
)

// MissingTokenError reports a placeholder that has no value in the
// subscriber's token map. A missing personalization value is a data defect
// that must surface, never a silent blank substitution.
type MissingTokenError struct {
	Token string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("template references missing token {%s}", e.Token)
}

// RenderTemplate substitutes every {token} placeholder in tmpl with its
// value from tokens. Pure function, no I/O. An unterminated brace is left
// verbatim; an unknown token is an error.
func RenderTemplate(tmpl string, tokens map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for {
		open := strings.IndexByte(tmpl, '{')
		if open == -1 {
			b.WriteString(tmpl)
			return b.String(), nil
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end == -1 {
			b.WriteString(tmpl)
			return b.String(), nil
		}
		end += open

		b.WriteString(tmpl[:open])
		name := tmpl[open+1 : end]
		value, ok := tokens[name]
		if !ok {
			return "", &MissingTokenError{Token: name}
		}
		b.WriteString(value)
		tmpl = tmpl[end+1:]
	}
}
