package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository is the CRUD surface shared by the placer stores. IP addresses
// do not implement it: their identity is the address, not the row ID.
type Repository[T any, ID comparable] interface {
	// Save inserts when the ID is zero and updates otherwise
	Save(ctx context.Context, entity T) (T, error)

	// FindByID returns ErrNotFound for a missing row
	FindByID(ctx context.Context, id ID) (T, error)

	FindAll(ctx context.Context) ([]T, error)

	// DeleteByID returns ErrNotFound when nothing was deleted
	DeleteByID(ctx context.Context, id ID) error
}

// deleteByID removes one row of table. Foreign keys take care of the
// dependent rows. entity names the row in errors.
func deleteByID(ctx context.Context, db *sqlx.DB, table, entity string, id int64) error {
	result, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", entity, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s with ID %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
