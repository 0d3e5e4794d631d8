package storage

import (
	"context"
	"time"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, plugin, action, target, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Plugin, e.Action, e.Target, boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return wrapErr(err)
}

// RecentAudit returns the newest audit entries for a chat, newest first.
func (s *Store) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, COALESCE(actor_username, ''), chat_id, plugin, action, target, ok, COALESCE(err, ''), COALESCE(meta, '')
		 FROM audit WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&at, &e.ActorID, &e.ActorUsername, &e.ChatID, &e.Plugin, &e.Action, &e.Target, &ok, &e.Error, &e.MetaJSON); err != nil {
			return nil, wrapErr(err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, wrapErr(rows.Err())
}
