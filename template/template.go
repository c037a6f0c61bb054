// Package template implements the SQL templating grammar used by bound
// functions and migration scripts.
//
// Two reference forms may appear in a SQL string, disambiguated purely by
// their opening delimiter:
//
//	#{dotted.path}   parameterized: becomes a driver placeholder plus a
//	                 bound value, never concatenated into the SQL text
//	!{dotted.path}   raw: the resolved value's string form is spliced
//	                 directly into the SQL text
//
// Raw substitution exists for identifiers (table and column names) that
// standard SQL cannot parameterize. No escaping is applied to it, so it is
// an SQL injection risk by construction: callers are responsible for
// restricting which values reach a raw reference.
//
// A bare '#', '!', '{' or '}' that does not open a reference is plain text.
package template

import (
	"fmt"
	"strings"
)

// PlaceholderFunc renders the driver placeholder for the n-th bound
// parameter (1-based), e.g. "$3" for postgres or "?" for mysql.
type PlaceholderFunc func(n int) string

type segKind uint8

const (
	segLiteral segKind = iota
	segParam
	segRaw
)

type segment struct {
	kind segKind
	text string   // segLiteral
	path []string // segParam, segRaw
}

// Template is the immutable parsed form of a SQL string. It is safe for
// concurrent use; rendering never mutates it.
type Template struct {
	source   string
	segments []segment
	paths    [][]string
}

// Parse parses a SQL string into a Template. It returns a *SyntaxError on
// unterminated references, empty path segments, or unsupported characters
// inside a reference.
func Parse(source string) (*Template, error) {
	t := &Template{source: source}
	var literal strings.Builder
	flush := func() {
		if literal.Len() > 0 {
			t.segments = append(t.segments, segment{kind: segLiteral, text: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(source); {
		c := source[i]
		if (c == '#' || c == '!') && i+1 < len(source) && source[i+1] == '{' {
			path, next, err := parsePath(source, i+2)
			if err != nil {
				return nil, err
			}
			flush()
			kind := segParam
			if c == '!' {
				kind = segRaw
			}
			t.segments = append(t.segments, segment{kind: kind, path: path})
			t.paths = append(t.paths, path)
			i = next
			continue
		}
		literal.WriteByte(c)
		i++
	}
	flush()
	return t, nil
}

// MustParse is like Parse but panics on a syntax error. It is intended for
// templates declared as package-level constants, mirroring regexp.MustCompile.
func MustParse(source string) *Template {
	t, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return t
}

// parsePath consumes a dotted identifier path starting at i and ending at
// the closing brace. It returns the path and the index just past the brace.
func parsePath(source string, i int) ([]string, int, error) {
	start := i
	var path []string
	var ident strings.Builder

	endIdent := func(at int) error {
		if ident.Len() == 0 {
			return syntaxErrf(at, "empty path segment in reference")
		}
		path = append(path, ident.String())
		ident.Reset()
		return nil
	}

	for ; i < len(source); i++ {
		c := source[i]
		switch {
		case c == '}':
			if err := endIdent(i); err != nil {
				return nil, 0, err
			}
			return path, i + 1, nil
		case c == '.':
			if err := endIdent(i); err != nil {
				return nil, 0, err
			}
		case isIdentStart(c) || (ident.Len() > 0 && isIdentPart(c)):
			ident.WriteByte(c)
		default:
			return nil, 0, syntaxErrf(i, "unsupported character %q in reference", c)
		}
	}
	return nil, 0, syntaxErrf(start - 2, "unterminated reference")
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// Source returns the raw SQL string the template was parsed from.
func (t *Template) Source() string { return t.source }

// Paths returns the reference paths in source order, raw and parameterized
// alike. The slices are shared; callers must not modify them.
func (t *Template) Paths() [][]string { return t.paths }

func (t *Template) String() string { return t.source }

// Render resolves every reference against env and produces the final SQL
// plus the ordered positional parameters. Raw references are substituted
// into the SQL text in the order they appear in the source; parameterized
// references emit a placeholder obtained from ph and append the resolved
// value to the parameter list.
//
// Rendering is deterministic: identical inputs yield byte-identical SQL and
// an identical parameter sequence. A path that does not resolve against env
// fails with *UnresolvedError.
func (t *Template) Render(env map[string]any, ph PlaceholderFunc) (string, []any, error) {
	var sql strings.Builder
	sql.Grow(len(t.source) + 8)
	var params []any

	resolved := make(map[string]any, len(t.paths))
	lookup := func(path []string) (any, error) {
		key := strings.Join(path, ".")
		if v, ok := resolved[key]; ok {
			return v, nil
		}
		v, err := resolvePath(env, path)
		if err != nil {
			return nil, err
		}
		resolved[key] = v
		return v, nil
	}

	for _, seg := range t.segments {
		switch seg.kind {
		case segLiteral:
			sql.WriteString(seg.text)
		case segRaw:
			v, err := lookup(seg.path)
			if err != nil {
				return "", nil, err
			}
			sql.WriteString(fmt.Sprintf("%v", v))
		case segParam:
			v, err := lookup(seg.path)
			if err != nil {
				return "", nil, err
			}
			params = append(params, v)
			sql.WriteString(ph(len(params)))
		}
	}
	return sql.String(), params, nil
}
