package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
	chatsvc "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
)

// Store implements chatsvc.Store on top of SQLite.
type Store struct {
	db *DB
}

var _ chatsvc.Store = (*Store)(nil)

// NewStore wraps an opened database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSession(ctx context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, chatsvc.ErrSessionRequired
	}

	now := formatTime(time.Now().UTC())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, now, now,
	); err != nil {
		return chat.Session{}, fmt.Errorf("ensure session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chatsvc.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}

	return chat.Session{ID: sessionID, CreatedAt: parseTime(created), UpdatedAt: parseTime(updated)}, nil
}

func (s *Store) SaveMessage(ctx context.Context, message chat.Message) error {
	if _, err := s.GetSession(ctx, message.SessionID); err != nil {
		return err
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	created := formatTime(message.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, sender, content, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?)`,
		uuid.NewString(), message.SessionID, message.SessionID, message.Sender, message.Content, created,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, created, message.SessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, content, created_at FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			m       chat.Message
			created string
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SessionID = sessionID
		m.CreatedAt = parseTime(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) SaveDiagram(ctx context.Context, sessionID, xml string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET diagram = ?, updated_at = ? WHERE id = ?`,
		xml, formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return fmt.Errorf("save diagram: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chatsvc.ErrSessionNotFound
	}
	return nil
}

func (s *Store) CurrentDiagram(ctx context.Context, sessionID string) (string, error) {
	var diagram string
	err := s.db.QueryRowContext(ctx, `SELECT diagram FROM sessions WHERE id = ?`, sessionID).Scan(&diagram)
	if errors.Is(err, sql.ErrNoRows) {
		return "", chatsvc.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("current diagram: %w", err)
	}
	return diagram, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
