package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"allybot/internal/schedule"
)

// SetEventMeta assigns a category and duration to an event item.
func (s *Store) SetEventMeta(ctx context.Context, m schedule.EventMeta) error {
	if _, err := schedule.ParseCategory(string(m.Category)); err != nil {
		return fmt.Errorf("%w: %v", schedule.ErrMalformedSchedule, err)
	}
	if err := schedule.ValidateWindow(m.Window); err != nil {
		return err
	}
	it, err := s.GetItem(ctx, m.ItemID)
	if err != nil {
		return err
	}
	if it.Kind != schedule.KindEvent {
		return fmt.Errorf("event %d: %w", m.ItemID, schedule.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_meta(item_id, category, duration_min) VALUES(?,?,?)
		 ON CONFLICT(item_id) DO UPDATE SET category = excluded.category, duration_min = excluded.duration_min`,
		m.ItemID, string(m.Category), int(m.Window/time.Minute))
	return wrapErr(err)
}

func (s *Store) GetEventMeta(ctx context.Context, itemID int64) (schedule.EventMeta, error) {
	var (
		cat  string
		mins int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT category, duration_min FROM event_meta WHERE item_id = ?`, itemID).Scan(&cat, &mins)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.EventMeta{}, fmt.Errorf("event meta %d: %w", itemID, schedule.ErrNotFound)
	}
	if err != nil {
		return schedule.EventMeta{}, wrapErr(err)
	}
	return schedule.EventMeta{ItemID: itemID, Category: schedule.Category(cat), Window: time.Duration(mins) * time.Minute}, nil
}

// EventWindows returns the windows of every event in scope, closed ones
// included, ordered by start.
func (s *Store) EventWindows(ctx context.Context, scopeID int64) ([]schedule.EventWindow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.title, i.scheduled_at, COALESCE(m.category, ''), COALESCE(m.duration_min, 0)
		 FROM items i LEFT JOIN event_meta m ON m.item_id = i.id
		 WHERE i.scope_id = ? AND i.kind = 'event'
		 ORDER BY i.scheduled_at, i.id`, scopeID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []schedule.EventWindow
	for rows.Next() {
		var (
			it   schedule.Item
			at   int64
			cat  string
			mins int
		)
		if err := rows.Scan(&it.ID, &it.Title, &at, &cat, &mins); err != nil {
			return nil, wrapErr(err)
		}
		it.ScheduledAt = fromUnix(at)
		out = append(out, schedule.WindowOf(it, schedule.EventMeta{
			ItemID:   it.ID,
			Category: schedule.Category(cat),
			Window:   time.Duration(mins) * time.Minute,
		}))
	}
	return out, wrapErr(rows.Err())
}

// StartedBuffs returns the buffs of scope whose start notification went out
// at or after since, each with its participants in the "yes" status.
func (s *Store) StartedBuffs(ctx context.Context, scopeID int64, since time.Time) ([]schedule.BuffUse, error) {
	items, err := s.queryItems(ctx,
		`SELECT `+itemCols+` FROM items
		 WHERE scope_id = ? AND kind = 'buff' AND start_sent = 1 AND scheduled_at >= ?
		 ORDER BY scheduled_at, id`,
		scopeID, unix(since))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]schedule.BuffUse, len(items))
	idx := make(map[int64]int, len(items))
	for i, it := range items {
		out[i].Item = it
		idx[it.ID] = i
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.item_id, p.user_id, p.username, p.status, p.seq, p.updated_at
		 FROM participants p JOIN items i ON i.id = p.item_id
		 WHERE i.scope_id = ? AND i.kind = 'buff' AND i.start_sent = 1 AND i.scheduled_at >= ? AND p.status = 'yes'
		 ORDER BY p.item_id, p.seq`,
		scopeID, unix(since))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		if i, ok := idx[p.ItemID]; ok {
			out[i].Joined = append(out[i].Joined, p)
		}
	}
	return out, wrapErr(rows.Err())
}
