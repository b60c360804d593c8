package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/audit"
)

const defaultWindowLimit = 200

// AppendRecord は実行記録を1件追記する
func (s *Store) AppendRecord(ctx context.Context, r audit.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.ID == "" {
		r.ID = newID(r.CreatedAt)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, session_id, model_id, mode, directive, name, category, status, output, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.ModelID, r.Mode.String(), r.Directive, r.Name,
		string(r.Category), string(r.Status), r.Output, r.Error, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Records はセッションの実行記録を古い順に返す
func (s *Store) Records(ctx context.Context, sessionID string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, model_id, mode, directive, name, category, status, output, error, created_at
		FROM audit_records WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var r audit.Record
		var modeText, category, status string
		var created int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ModelID, &modeText, &r.Directive, &r.Name,
			&category, &status, &r.Output, &r.Error, &created); err != nil {
			return nil, err
		}
		if err := r.Mode.UnmarshalText([]byte(modeText)); err != nil {
			return nil, err
		}
		r.Category = audit.Category(category)
		r.Status = audit.Status(status)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendTurns は会話ターンを1トランザクションで追記する
func (s *Store) AppendTurns(ctx context.Context, turns ...audit.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for i, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now()
		}
		if t.ID == "" {
			t.ID = newID(t.CreatedAt)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, sender, text, model_id, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SessionID, string(t.Sender), t.Text, t.ModelID, toMillis(t.CreatedAt), i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

// RecentTurns はセッションの直近 limit 件を古い順に返す
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]audit.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, model_id, created_at FROM (
			SELECT id, session_id, sender, text, model_id, created_at, seq
			FROM turns WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC, id DESC
			LIMIT ?
		) ORDER BY created_at, seq, id`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []audit.Turn
	for rows.Next() {
		var t audit.Turn
		var sender string
		var created int64
		if err := rows.Scan(&t.ID, &t.SessionID, &sender, &t.Text, &t.ModelID, &created); err != nil {
			return nil, err
		}
		t.Sender = audit.Sender(sender)
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendEvent はセッションイベントを追記する
func (s *Store) AppendEvent(ctx context.Context, e audit.SessionEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.ID == "" {
		e.ID = newID(e.CreatedAt)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, session_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Kind, e.Detail, toMillis(e.CreatedAt)); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// RecordUsage はトークン使用量を追記する
func (s *Store) RecordUsage(ctx context.Context, u audit.Usage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (session_id, model_id, input_tokens, output_tokens, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.SessionID, u.ModelID, u.InputTokens, u.OutputTokens, toMillis(u.CreatedAt)); err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// Window はカテゴリ横断のログを古い順に返す（直近 Limit 件）
func (s *Store) Window(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultWindowLimit
	}

	var parts []string
	var args []any
	since := toMillis(q.Since)

	add := func(category audit.Category, query string, extra ...any) {
		if q.Category != "" && q.Category != category {
			return
		}
		if q.SessionID != "" {
			query += " AND session_id = ?"
			extra = append(extra, q.SessionID)
		}
		parts = append(parts, query)
		args = append(args, extra...)
	}

	add(audit.CategoryChat,
		`SELECT created_at AS ts, 'chat' AS category, session_id, sender || ': ' || substr(text, 1, 200) AS summary
		 FROM turns WHERE created_at >= ?`, since)
	add(audit.CategoryCommands,
		`SELECT created_at, category, session_id, directive || ' (' || status || ')' || CASE WHEN error != '' THEN ': ' || error ELSE '' END
		 FROM audit_records WHERE created_at >= ? AND category = 'commands'`, since)
	add(audit.CategoryConfig,
		`SELECT created_at, category, session_id, directive || ' (' || status || ')' || CASE WHEN error != '' THEN ': ' || error ELSE '' END
		 FROM audit_records WHERE created_at >= ? AND category = 'config'`, since)
	add(audit.CategorySessions,
		`SELECT created_at, 'sessions', session_id, kind || CASE WHEN detail != '' THEN ': ' || detail ELSE '' END
		 FROM session_events WHERE created_at >= ?`, since)

	if len(parts) == 0 {
		return nil, nil
	}

	query := "SELECT ts, category, session_id, summary FROM (" + strings.Join(parts, " UNION ALL ") +
		") ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query log window: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var ts int64
		var category string
		if err := rows.Scan(&ts, &category, &e.SessionID, &e.Summary); err != nil {
			return nil, err
		}
		e.Time = fromMillis(ts)
		e.Category = audit.Category(category)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 古い順に並べ替える
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Performance は since 以降の実行回数・失敗数・トークン数を集計する
func (s *Store) Performance(ctx context.Context, since time.Time) (audit.Performance, error) {
	p := audit.Performance{Since: since}
	ms := toMillis(since)

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COUNT(*), SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), MAX(created_at)
		FROM audit_records WHERE created_at >= ?
		GROUP BY name ORDER BY name`, ms)
	if err != nil {
		return p, fmt.Errorf("aggregate directives: %w", err)
	}
	for rows.Next() {
		var d audit.DirectiveStats
		var last int64
		if err := rows.Scan(&d.Name, &d.Total, &d.Failures, &last); err != nil {
			rows.Close()
			return p, err
		}
		d.LastRunAt = fromMillis(last)
		p.Directives = append(p.Directives, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return p, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE created_at >= ? AND sender = 'user'`, ms).Scan(&p.Turns); err != nil {
		return p, fmt.Errorf("count turns: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0) FROM token_usage WHERE created_at >= ?`,
		ms).Scan(&p.InputTokens, &p.OutputTokens); err != nil {
		return p, fmt.Errorf("sum tokens: %w", err)
	}
	return p, nil
}
