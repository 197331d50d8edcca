// Package recurrence implements C7: promoting a parent bug (and its latest
// duplicate) to the Recurring classification once duplicate accumulation
// crosses a configurable threshold.
package recurrence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// DefaultThreshold is the live-duplicate count at which a parent is marked
// Recurring, per §4.7.
const DefaultThreshold = 3

// Counter reports how many live duplicates (created + blocked) reference a
// parent bug, per §4.7's trigger condition. It runs inside tx so the row the
// caller just inserted in the same transaction is counted.
type Counter interface {
	CountLiveDuplicatesOf(ctx context.Context, tx pgx.Tx, parent uuid.UUID) (int, error)
}

// Tracker runs C7 after a Duplicate or Blocked event.
type Tracker struct {
	Counter   Counter
	Threshold int
}

func New(counter Counter, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{Counter: counter, Threshold: threshold}
}

// Update counts live duplicates of parent and, if the threshold is
// crossed, marks the parent Recurring within tx. The caller is
// responsible for also marking a freshly-inserted duplicate Recurring in
// the same transaction, since MarkRecurring only touches parent.
func (t *Tracker) Update(ctx context.Context, tx pgx.Tx, parent uuid.UUID) (becameRecurring bool, err error) {
	count, err := t.Counter.CountLiveDuplicatesOf(ctx, tx, parent)
	if err != nil {
		return false, fmt.Errorf("recurrence: count live duplicates: %w", err)
	}
	if count < t.Threshold {
		return false, nil
	}
	if err := markRecurring(ctx, tx, parent); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRecurring sets is_recurring and classification=Recurring on a bug
// within tx, used both by Update (for the parent) and by the detector (for
// a just-inserted duplicate, in the same transaction).
func MarkRecurring(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return markRecurring(ctx, tx, id)
}

func markRecurring(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE bugs SET is_recurring = true, classification = $2, updated_at = now() WHERE id = $1`, id, string(model.ClassificationRecurring))
	if err != nil {
		return fmt.Errorf("recurrence: mark bug recurring: %w", err)
	}
	return nil
}
