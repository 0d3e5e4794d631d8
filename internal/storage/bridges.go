package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"allybot/internal/schedule"
)

// SetBridge binds chatID to lang in group, replacing any previous binding of
// the chat or of the (group, lang) slot.
func (s *Store) SetBridge(ctx context.Context, b Bridge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bridges WHERE chat_id = ?`, b.ChatID); err != nil {
			return wrapErr(err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bridges(grp, lang, chat_id) VALUES(?,?,?)
			 ON CONFLICT(grp, lang) DO UPDATE SET chat_id = excluded.chat_id`,
			b.Group, b.Lang, b.ChatID)
		return wrapErr(err)
	})
}

// BridgeForChat returns the binding of a chat.
func (s *Store) BridgeForChat(ctx context.Context, chatID int64) (Bridge, error) {
	var b Bridge
	err := s.db.QueryRowContext(ctx, `SELECT grp, lang, chat_id FROM bridges WHERE chat_id = ?`, chatID).
		Scan(&b.Group, &b.Lang, &b.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return Bridge{}, fmt.Errorf("bridge for chat %d: %w", chatID, schedule.ErrNotFound)
	}
	return b, wrapErr(err)
}

// BridgeGroup returns every binding of a group ordered by language.
func (s *Store) BridgeGroup(ctx context.Context, group string) ([]Bridge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT grp, lang, chat_id FROM bridges WHERE grp = ? ORDER BY lang`, group)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []Bridge
	for rows.Next() {
		var b Bridge
		if err := rows.Scan(&b.Group, &b.Lang, &b.ChatID); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, b)
	}
	return out, wrapErr(rows.Err())
}

// ClearBridge removes a chat's binding. Removing a missing binding is not an error.
func (s *Store) ClearBridge(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bridges WHERE chat_id = ?`, chatID)
	return wrapErr(err)
}
