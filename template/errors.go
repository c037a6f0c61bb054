package template

import (
	"fmt"
	"strings"
)

// SyntaxError reports a malformed template. It is raised at parse time,
// before the template is ever rendered.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template: %s at offset %d", e.Msg, e.Offset)
}

// UnresolvedError reports a reference path that could not be resolved
// against the render environment.
type UnresolvedError struct {
	Path []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("template: cannot resolve reference %q", strings.Join(e.Path, "."))
}

func syntaxErrf(offset int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
