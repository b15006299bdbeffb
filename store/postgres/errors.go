package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/eggstand/fulfillment"
)

// mapError converts pgx/pgconn errors to fulfillment errors.
// Context errors pass through wrapped but unmapped.
func mapError(err error, op string, id fulfillment.OrderID) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) || pgxscan.NotFound(err) {
		return &fulfillment.NotFoundError{OrderID: id}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w", op, id, fulfillment.ErrAlreadyExists)
		case "40001": // serialization_failure
			return fmt.Errorf("%s %s: %w", op, id, fulfillment.ErrConflict)
		}
	}

	return &fulfillment.StorageError{Op: fmt.Sprintf("%s %s", op, id), Err: err}
}
