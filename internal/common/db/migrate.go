package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the bundled schema for the database dialect. Statements are
// idempotent so it is safe on every startup.
func Migrate(ctx context.Context, database Database) error {
	raw, err := schemaFS.ReadFile("schema/" + database.Dialect() + ".sql")
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
