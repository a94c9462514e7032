// Package history persists completed turns. Writes are best effort: a
// storage failure is logged by callers and never fails a chat turn.
package history

import (
	"context"

	"spockchat/internal/db"
)

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO sessions (id) VALUES (?) ON CONFLICT (id) DO NOTHING`,
		sessionID,
	)
	return err
}

func (s *Store) SaveTurn(ctx context.Context, sessionID, prompt, answer string, toolCalls int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO turns (session_id, prompt, answer, tool_calls) VALUES (?, ?, ?, ?)`,
		sessionID, prompt, answer, toolCalls,
	)
	return err
}

// Turn is one persisted exchange.
type Turn struct {
	ID        int64
	SessionID string
	Prompt    string
	Answer    string
	ToolCalls int
	CreatedAt string
}

// Transcript returns a session's turns oldest first.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, session_id, prompt, answer, tool_calls, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Prompt, &t.Answer, &t.ToolCalls, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
