package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/speakdrill/speakdrill/pkg/history"
)

// AppendTurn implements [history.Store]. It appends turn to the session_turns
// table under sessionID.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn history.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("history store: append turn: sessionID must not be empty")
	}

	const q = `
		INSERT INTO session_turns
		    (session_id, role, text, tool_call_id, turn_index, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		turn.Role,
		turn.Text,
		turn.ToolCallID,
		turn.Index,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("history store: append turn: %w", err)
	}
	return nil
}

// GetTurns implements [history.Store]. It returns all turns for sessionID
// ordered by their position within the session.
func (s *Store) GetTurns(ctx context.Context, sessionID string) ([]history.Turn, error) {
	const q = `
		SELECT role, text, tool_call_id, turn_index, timestamp
		FROM   session_turns
		WHERE  session_id = $1
		ORDER  BY turn_index`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history store: get turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Turn, error) {
		var t history.Turn
		if err := row.Scan(&t.Role, &t.Text, &t.ToolCallID, &t.Index, &t.Timestamp); err != nil {
			return history.Turn{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan turns: %w", err)
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return turns, nil
}
