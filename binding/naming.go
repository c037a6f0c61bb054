package binding

import (
	"strings"
	"unicode"

	pluralizer "github.com/gertd/go-pluralize"
)

// pluralizeClient is a singleton so pluralization stays consistent across
// the process.
var pluralizeClient = pluralizer.NewClient()

// ColumnName converts a Go field name to the column name the result mapper
// matches against: snake_case, with acronym runs kept together (UserID ->
// user_id, HTTPStatus -> http_status). A db struct tag overrides this.
func ColumnName(fieldName string) string {
	return snakeCase(fieldName)
}

// TableName converts a Go struct name to a conventional table name:
// pluralized snake_case (BlogPost -> blog_posts). It pairs with raw
// references for identifier interpolation:
//
//	var listUsers = binding.Many[User](binder,
//		"SELECT id, name FROM !{table} ORDER BY id")
//	rows, err := listUsers(ctx, binding.Args{"table": binding.TableName("User")})
func TableName(structName string) string {
	return pluralizeClient.Plural(snakeCase(structName))
}

// snakeCase lowercases name, inserting underscores at word boundaries. An
// uppercase run is treated as one word until a lowercase letter follows
// its last character.
func snakeCase(name string) string {
	if name == "" {
		return ""
	}
	if strings.Contains(name, "_") && !strings.ContainsFunc(name, unicode.IsUpper) {
		return strings.ToLower(name)
	}

	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			switch {
			case unicode.IsLower(prev) || unicode.IsDigit(prev):
				b.WriteByte('_')
			case unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
