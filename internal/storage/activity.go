package storage

import (
	"context"
	"time"
)

const dayLayout = "2006-01-02"

// Day returns the UTC calendar day of t in the layout used by activity tables.
func Day(t time.Time) string { return t.UTC().Format(dayLayout) }

func (s *Store) IncMessage(ctx context.Context, scopeID, userID int64, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO msg_counts(scope_id, user_id, username, day, count) VALUES(?,?,?,?,1)
		 ON CONFLICT(scope_id, user_id, day) DO UPDATE SET count = count + 1, username = excluded.username`,
		scopeID, userID, username, Day(at))
	return wrapErr(err)
}

func (s *Store) IncCommand(ctx context.Context, scopeID int64, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cmd_counts(scope_id, name, day, count) VALUES(?,?,?,1)
		 ON CONFLICT(scope_id, name, day) DO UPDATE SET count = count + 1`,
		scopeID, name, Day(at))
	return wrapErr(err)
}

// IncJoinLeave counts a member joining (joined=true) or leaving a scope.
func (s *Store) IncJoinLeave(ctx context.Context, scopeID int64, joined bool, at time.Time) error {
	j, l := 0, 1
	if joined {
		j, l = 1, 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO joinleave(scope_id, day, joins, leaves) VALUES(?,?,?,?)
		 ON CONFLICT(scope_id, day) DO UPDATE SET joins = joins + excluded.joins, leaves = leaves + excluded.leaves`,
		scopeID, Day(at), j, l)
	return wrapErr(err)
}

// TopUsers ranks users by message count since the given day (inclusive).
func (s *Store) TopUsers(ctx context.Context, scopeID int64, since time.Time, limit int) ([]Counter, error) {
	return s.counters(ctx,
		`SELECT user_id, MAX(username), SUM(count) AS c FROM msg_counts
		 WHERE scope_id = ? AND day >= ? GROUP BY user_id ORDER BY c DESC, user_id LIMIT ?`,
		scopeID, Day(since), limit)
}

// TopCommands ranks commands by use since the given day (inclusive).
func (s *Store) TopCommands(ctx context.Context, scopeID int64, since time.Time, limit int) ([]Counter, error) {
	return s.counters(ctx,
		`SELECT 0, name, SUM(count) AS c FROM cmd_counts
		 WHERE scope_id = ? AND day >= ? GROUP BY name ORDER BY c DESC, name LIMIT ?`,
		scopeID, Day(since), limit)
}

func (s *Store) counters(ctx context.Context, q string, args ...any) ([]Counter, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.ID, &c.Name, &c.Count); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) JoinLeaveSince(ctx context.Context, scopeID int64, since time.Time) (JoinLeave, error) {
	var jl JoinLeave
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(joins), 0), COALESCE(SUM(leaves), 0) FROM joinleave WHERE scope_id = ? AND day >= ?`,
		scopeID, Day(since)).Scan(&jl.Joins, &jl.Leaves)
	return jl, wrapErr(err)
}

// ActiveScopes returns scopes with any message activity since the given day.
func (s *Store) ActiveScopes(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT scope_id FROM msg_counts WHERE day >= ? ORDER BY scope_id`, Day(since))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, id)
	}
	return out, wrapErr(rows.Err())
}

// PruneActivity deletes counters older than the given day. It returns the number of rows removed.
func (s *Store) PruneActivity(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	day := Day(before)
	for _, q := range []string{
		`DELETE FROM msg_counts WHERE day < ?`,
		`DELETE FROM cmd_counts WHERE day < ?`,
		`DELETE FROM joinleave WHERE day < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, day)
		if err != nil {
			return total, wrapErr(err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
