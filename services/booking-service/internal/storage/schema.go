package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/md-rashed-zaman/apptbook/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the booking tables when missing. Every statement is idempotent.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	// No arguments, so pgx sends this over the simple protocol and multiple statements are allowed.
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply booking schema: %w", err)
	}
	return nil
}
