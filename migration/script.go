package migration

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Script names carry a date-and-sequence prefix so that lexicographic
// order is application order, e.g. 20260101_001_create_users.
var namePattern = regexp.MustCompile(`^\d{8}_\d{3}_.+$`)

// UpgradeFunc is a migration script's entry point. The handed Conn exposes
// the same templated execute/query surface bound functions use; everything
// it does runs inside the script's transaction.
type UpgradeFunc func(ctx context.Context, conn *Conn) error

// Script is one versioned migration step.
type Script struct {
	Name    string
	Upgrade UpgradeFunc
}

// FromFS loads migration scripts from .sql files under dir, one Script per
// file whose name matches the ordering pattern, sorted lexicographically.
// Each file is split into statements at line-ending semicolons and executed
// in order inside the script's transaction. It pairs with go:embed:
//
//	//go:embed migrations/*.sql
//	var migrationFS embed.FS
//
//	scripts, err := migration.FromFS(migrationFS, "migrations")
func FromFS(fsys fs.FS, dir string) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &DiscoveryError{Msg: fmt.Sprintf("reading script directory %s: %v", dir, err)}
	}

	var scripts []Script
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if !namePattern.MatchString(strings.TrimSuffix(name, ".sql")) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, &DiscoveryError{Msg: fmt.Sprintf("reading script %s: %v", name, err)}
		}
		stmts := splitStatements(string(data))
		scripts = append(scripts, Script{
			Name: strings.TrimSuffix(name, ".sql"),
			Upgrade: func(ctx context.Context, conn *Conn) error {
				for _, stmt := range stmts {
					if _, err := conn.Execute(ctx, stmt, nil); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}

// splitStatements splits a SQL file at semicolons that end a line, dropping
// blank lines and line comments between statements. Semicolons inside
// string literals that also end a line are not supported; keep one
// statement per semicolon-terminated block.
func splitStatements(src string) []string {
	var stmts []string
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if b.Len() == 0 && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(b.String()), ";")
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}

// validateScripts checks names against the ordering pattern, rejects
// duplicates and nil entry points, and returns the scripts in application
// order.
func validateScripts(scripts []Script) ([]Script, error) {
	out := make([]Script, len(scripts))
	copy(out, scripts)
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		if !namePattern.MatchString(s.Name) {
			return nil, &DiscoveryError{Msg: fmt.Sprintf("script name %q does not match the ordering pattern", s.Name)}
		}
		if seen[s.Name] {
			return nil, &DiscoveryError{Msg: fmt.Sprintf("duplicate script name %q", s.Name)}
		}
		seen[s.Name] = true
		if s.Upgrade == nil {
			return nil, &DiscoveryError{Msg: fmt.Sprintf("script %q has no upgrade entry point", s.Name)}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
