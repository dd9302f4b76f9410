package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mschirtzinger/acctsync/internal/account"
	"github.com/mschirtzinger/acctsync/internal/metrics"
)

// BackfillFields are credentials parsed from an external source.
type BackfillFields struct {
	Password      *string
	RecoveryEmail *string
	SecretKey     *string
}

// BackfillResult reports the effect of Backfill.
type BackfillResult struct {
	Outcome Outcome
	// Filled lists the columns written on an existing row.
	Filled []string
}

// Backfill links email to an inventory profile in one critical section.
//
// Unknown emails are inserted with status pending_check, every parsed field
// and browserID. For known emails only columns that are currently NULL or
// empty are written, and only when the source produced a non-empty value:
// populated columns are never overwritten.
func (s *Store) Backfill(ctx context.Context, email, browserID string, f BackfillFields) (BackfillResult, error) {
	if strings.TrimSpace(email) == "" {
		return BackfillResult{}, ErrEmptyEmail
	}

	var res BackfillResult
	err := s.write(ctx, "backfill", func(ctx context.Context, q *Queries) error {
		existing, err := q.Get(ctx, email)
		if errors.Is(err, ErrNotFound) {
			p := account.Patch{
				Password:      f.Password,
				RecoveryEmail: f.RecoveryEmail,
				SecretKey:     f.SecretKey,
				Status:        account.StatusPtr(account.StatusPendingCheck),
			}
			if browserID != "" {
				p.BrowserID = &browserID
			}
			if err := q.Insert(ctx, email, p); err != nil {
				return err
			}
			res.Outcome = Inserted
			return nil
		}
		if err != nil {
			return err
		}

		var p account.Patch
		fill := func(col string, current, incoming *string, dst **string) {
			if account.Blank(current) && !account.Blank(incoming) {
				*dst = incoming
				res.Filled = append(res.Filled, col)
			}
		}
		fill("browser_id", existing.BrowserID, &browserID, &p.BrowserID)
		fill("password", existing.Password, f.Password, &p.Password)
		fill("secret_key", existing.SecretKey, f.SecretKey, &p.SecretKey)
		fill("recovery_email", existing.RecoveryEmail, f.RecoveryEmail, &p.RecoveryEmail)

		changed, err := q.Update(ctx, email, p)
		if err != nil {
			return err
		}
		if changed {
			res.Outcome = Updated
		}
		return nil
	})
	if err != nil {
		return BackfillResult{}, err
	}

	metrics.StoreOperations.WithLabelValues("backfill", res.Outcome.String()).Inc()
	switch res.Outcome {
	case Inserted:
		s.logger.Debug("account inserted from inventory", zap.String("email", email), zap.String("browser_id", browserID))
		s.notify(Event{Kind: EventInserted, Email: email, Status: account.StatusPendingCheck})
	case Updated:
		s.logger.Debug("account backfilled", zap.String("email", email), zap.Strings("fields", res.Filled))
		s.notify(Event{Kind: EventUpdated, Email: email})
	}
	return res, nil
}
