package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"allybot/internal/schedule"
)

const itemCols = `id, scope_id, kind, scheduled_at, lead_sent, start_sent, status, creator_id,
	title, description, capacity, lang, recurrence, created_at, closed_at, confirmed_by, confirmed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (schedule.Item, error) {
	var (
		it                  schedule.Item
		kind, status        string
		at, created         int64
		leadSent, startSent int
		closed              sql.NullInt64
		confBy, confAt      sql.NullInt64
	)
	err := r.Scan(&it.ID, &it.ScopeID, &kind, &at, &leadSent, &startSent, &status, &it.CreatorID,
		&it.Title, &it.Description, &it.Capacity, &it.Lang, &it.Recurrence, &created, &closed, &confBy, &confAt)
	if err != nil {
		return schedule.Item{}, err
	}
	it.Kind = schedule.Kind(kind)
	it.Status = schedule.ItemStatus(status)
	it.ScheduledAt = fromUnix(at)
	it.CreatedAt = fromUnix(created)
	it.LeadSent = leadSent != 0
	it.StartSent = startSent != 0
	if closed.Valid {
		it.ClosedAt = fromUnix(closed.Int64)
	}
	if confBy.Valid {
		it.ConfirmedBy = confBy.Int64
	}
	if confAt.Valid {
		it.ConfirmedAt = fromUnix(confAt.Int64)
	}
	return it, nil
}

// CreateItem validates and inserts a new open item and returns it with its id.
func (s *Store) CreateItem(ctx context.Context, n schedule.NewItem) (schedule.Item, error) {
	if err := n.Validate(); err != nil {
		return schedule.Item{}, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(scope_id, kind, scheduled_at, creator_id, title, description, capacity, lang, recurrence, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		n.ScopeID, string(n.Kind), unix(n.ScheduledAt), n.CreatorID, strings.TrimSpace(n.Title),
		strings.TrimSpace(n.Description), n.Capacity, n.Lang, strings.TrimSpace(n.Recurrence), unix(now),
	)
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	return s.GetItem(ctx, id)
}

func (s *Store) GetItem(ctx context.Context, id int64) (schedule.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Item{}, fmt.Errorf("item %d: %w", id, schedule.ErrNotFound)
	}
	return it, wrapErr(err)
}

// ListItems returns items matching f ordered by scheduled time.
func (s *Store) ListItems(ctx context.Context, f ItemFilter) ([]schedule.Item, error) {
	var (
		where []string
		args  []any
	)
	if f.ScopeID != 0 {
		where = append(where, "scope_id = ?")
		args = append(args, f.ScopeID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.CreatorID != 0 {
		where = append(where, "creator_id = ?")
		args = append(args, f.CreatorID)
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_at >= ?")
		args = append(args, unix(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_at <= ?")
		args = append(args, unix(f.To))
	}
	q := `SELECT ` + itemCols + ` FROM items`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY scheduled_at, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryItems(ctx, q, args...)
}

// Pending returns open items that are not fully notified and whose
// scheduled time is at or before now+horizon. The matcher decides which
// of them are actually due.
func (s *Store) Pending(ctx context.Context, now time.Time, horizon time.Duration) ([]schedule.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemCols+` FROM items
		 WHERE status = 'open' AND start_sent = 0 AND scheduled_at <= ?
		 ORDER BY scheduled_at, id`,
		unix(now.Add(horizon)),
	)
}

func (s *Store) queryItems(ctx context.Context, q string, args ...any) ([]schedule.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []schedule.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, it)
	}
	return out, wrapErr(rows.Err())
}

// TryMarkNotified sets the trigger's flag only if it is still unset and the
// item is still open. It reports whether this call made the transition.
func (s *Store) TryMarkNotified(ctx context.Context, id int64, t schedule.Trigger) (bool, error) {
	var q string
	switch t {
	case schedule.TriggerLead:
		q = `UPDATE items SET lead_sent = 1 WHERE id = ? AND lead_sent = 0 AND status = 'open'`
	case schedule.TriggerStart:
		q = `UPDATE items SET start_sent = 1 WHERE id = ? AND start_sent = 0 AND status = 'open'`
	default:
		return false, fmt.Errorf("unknown trigger %q", t)
	}
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n == 1, nil
}

// CloseItem moves an open item to closed. Closing twice fails with ErrAlreadyClosed.
func (s *Store) CloseItem(ctx context.Context, id int64) (schedule.Item, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = 'closed', closed_at = ? WHERE id = ? AND status = 'open'`,
		unix(s.now()), id)
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return schedule.Item{}, err
	}
	if n == 0 {
		return it, fmt.Errorf("item %d: %w", id, schedule.ErrAlreadyClosed)
	}
	return it, nil
}

// ConfirmItem records userID as the giver of an open buff. The first
// confirmation wins; confirming again returns the item unchanged.
func (s *Store) ConfirmItem(ctx context.Context, id, userID int64) (schedule.Item, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET confirmed_by = ?, confirmed_at = ?
		 WHERE id = ? AND kind = 'buff' AND status = 'open' AND confirmed_by IS NULL`,
		userID, unix(s.now()), id)
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schedule.Item{}, wrapErr(err)
	}
	it, err := s.GetItem(ctx, id)
	if err != nil || n == 1 {
		return it, err
	}
	switch {
	case it.Kind != schedule.KindBuff:
		return it, fmt.Errorf("%w: item %d is not a buff", schedule.ErrInvalidStatus, id)
	case !it.Open():
		return it, fmt.Errorf("item %d: %w", id, schedule.ErrAlreadyClosed)
	}
	return it, nil
}

// DeleteItem removes an item and, by cascade, its participants.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, schedule.ErrNotFound)
	}
	return nil
}

// CreateNext inserts the next occurrence of a recurring item, carrying its
// definition but none of its participants or flags.
func (s *Store) CreateNext(ctx context.Context, it schedule.Item, at time.Time) (schedule.Item, error) {
	return s.CreateItem(ctx, schedule.NewItem{
		ScopeID:     it.ScopeID,
		Kind:        it.Kind,
		ScheduledAt: at,
		CreatorID:   it.CreatorID,
		Title:       it.Title,
		Description: it.Description,
		Capacity:    it.Capacity,
		Lang:        it.Lang,
		Recurrence:  it.Recurrence,
	})
}
