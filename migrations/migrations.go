// Package migrations holds the SQL schema and applies it in file order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	Up   = "up"
	Down = "down"
)

//go:embed *.sql
var files embed.FS

// Files returns the migration file names for direction, in the order Run
// applies them: ascending for up, descending for down.
func Files(direction string) ([]string, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("direction must be %q or %q, got %q", Up, Down, direction)
	}

	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	suffix := "." + direction + ".sql"
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	if direction == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	return names, nil
}

// Run executes every migration for direction and returns the applied names.
func Run(ctx context.Context, db *sql.DB, direction string) ([]string, error) {
	names, err := Files(direction)
	if err != nil {
		return nil, err
	}

	for i, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return names[:i], fmt.Errorf("read migration file %s: %w", name, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return names[:i], fmt.Errorf("execute migration %s: %w", name, err)
		}
	}

	return names, nil
}
