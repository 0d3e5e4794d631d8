package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"allybot/internal/schedule"
)

// SetStatus records userID's status on an item, overwriting any previous one.
// The status is validated against the item's kind. On capacity-bounded items
// taking a notify-status slot fails with ErrSlotsFull once the item is full.
func (s *Store) SetStatus(ctx context.Context, itemID, userID int64, username, status string) (schedule.Participant, error) {
	return s.upsertParticipant(ctx, itemID, userID, username, status)
}

// Book takes a slot on an item: the kind's notify status (yes or claimed).
func (s *Store) Book(ctx context.Context, itemID, userID int64, username string) (schedule.Participant, error) {
	return s.upsertParticipant(ctx, itemID, userID, username, "")
}

func (s *Store) upsertParticipant(ctx context.Context, itemID, userID int64, username, raw string) (schedule.Participant, error) {
	var p schedule.Participant
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var kind, itemStatus string
		var capacity int
		err := tx.QueryRowContext(ctx, `SELECT kind, status, capacity FROM items WHERE id = ?`, itemID).
			Scan(&kind, &itemStatus, &capacity)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %d: %w", itemID, schedule.ErrNotFound)
		}
		if err != nil {
			return wrapErr(err)
		}
		if schedule.ItemStatus(itemStatus) == schedule.ItemClosed {
			return fmt.Errorf("item %d: %w", itemID, schedule.ErrAlreadyClosed)
		}
		k := schedule.Kind(kind)
		if raw == "" {
			raw = string(schedule.NotifyStatus(k))
		}
		st, err := schedule.ValidateStatus(k, raw)
		if err != nil {
			return err
		}

		slot := schedule.NotifyStatus(k)
		if capacity > 0 && st == slot {
			var prev string
			err := tx.QueryRowContext(ctx,
				`SELECT status FROM participants WHERE item_id = ? AND user_id = ?`, itemID, userID).Scan(&prev)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return wrapErr(err)
			}
			if schedule.Status(prev) != slot {
				var taken int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM participants WHERE item_id = ? AND status = ?`, itemID, string(slot)).Scan(&taken); err != nil {
					return wrapErr(err)
				}
				if taken >= capacity {
					return fmt.Errorf("item %d (%d/%d): %w", itemID, taken, capacity, schedule.ErrSlotsFull)
				}
			}
		}

		now := s.now()
		// A changed status moves the user to the end of the new group;
		// repeating the same status keeps the original position.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants(item_id, user_id, username, status, seq, updated_at)
			 VALUES(?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM participants WHERE item_id = ?), ?)
			 ON CONFLICT(item_id, user_id) DO UPDATE SET
			   username = excluded.username,
			   seq = CASE WHEN participants.status = excluded.status THEN participants.seq ELSE excluded.seq END,
			   status = excluded.status,
			   updated_at = excluded.updated_at`,
			itemID, userID, username, string(st), itemID, unix(now)); err != nil {
			return wrapErr(err)
		}
		row := tx.QueryRowContext(ctx,
			`SELECT item_id, user_id, username, status, seq, updated_at FROM participants WHERE item_id = ? AND user_id = ?`,
			itemID, userID)
		p, err = scanParticipant(row)
		return wrapErr(err)
	})
	return p, err
}

func scanParticipant(r rowScanner) (schedule.Participant, error) {
	var (
		p       schedule.Participant
		status  string
		updated int64
	)
	if err := r.Scan(&p.ItemID, &p.UserID, &p.Username, &status, &p.Seq, &updated); err != nil {
		return schedule.Participant{}, err
	}
	p.Status = schedule.Status(status)
	p.UpdatedAt = fromUnix(updated)
	return p, nil
}

// Participants returns all participants of an item ordered by insertion sequence.
func (s *Store) Participants(ctx context.Context, itemID int64) ([]schedule.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, user_id, username, status, seq, updated_at FROM participants
		 WHERE item_id = ? ORDER BY seq`, itemID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []schedule.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

// GroupByStatus returns the item's participants bucketed by status, each
// bucket in insertion order.
func (s *Store) GroupByStatus(ctx context.Context, itemID int64) (schedule.Grouped, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	ps, err := s.Participants(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return schedule.Group(ps), nil
}

func (s *Store) Count(ctx context.Context, itemID int64, status schedule.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE item_id = ? AND status = ?`, itemID, string(status)).Scan(&n)
	return n, wrapErr(err)
}
