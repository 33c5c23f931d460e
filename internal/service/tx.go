package service

import (
	"context"
	"fmt"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/rs/zerolog/log"
)

// runInTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. Commit failures are reported as
// domain.ErrTransaction.
func runInTx(ctx context.Context, store storage.Storage, fn func(tx storage.Transaction) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrTransaction, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: commit: %v", domain.ErrTransaction, err)
	}
	return nil
}
