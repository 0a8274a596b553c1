package service

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"andromirror/models"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when updating an unknown session id
var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps the history of mirroring attempts in sqlite
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) StartSession(serial string, setup models.SetupMessage) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(`
		INSERT INTO mirroring_sessions (id, serial, resolution, bitrate, fps, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, serial, setup.Resolution, setup.Bitrate, setup.FPS, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

func (s *SessionStore) MarkConnected(id string, width, height int) error {
	res, err := s.db.Exec(`
		UPDATE mirroring_sessions SET connected_at = ?, width = ?, height = ?
		WHERE id = ?
	`, s.now().UTC(), width, height, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return checkAffected(res, id)
}

// EndSession closes a session once. Ending it again returns ErrSessionNotFound
// and keeps the first reason.
func (s *SessionStore) EndSession(id, reason string) error {
	res, err := s.db.Exec(`
		UPDATE mirroring_sessions SET ended_at = ?, end_reason = ?
		WHERE id = ? AND ended_at IS NULL
	`, s.now().UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return checkAffected(res, id)
}

// Recent returns up to limit sessions, newest first. serial filters when set.
func (s *SessionStore) Recent(serial string, limit int) ([]models.MirroringSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, serial, resolution, bitrate, fps, width, height,
		       started_at, connected_at, ended_at, end_reason
		FROM mirroring_sessions`
	args := []interface{}{}
	if serial != "" {
		query += ` WHERE serial = ?`
		args = append(args, serial)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.MirroringSession{}
	for rows.Next() {
		var (
			sess      models.MirroringSession
			connected sql.NullTime
			ended     sql.NullTime
			reason    sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Serial, &sess.Resolution, &sess.Bitrate, &sess.FPS,
			&sess.Width, &sess.Height, &sess.StartedAt, &connected, &ended, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if connected.Valid {
			t := connected.Time
			sess.ConnectedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			sess.EndedAt = &t
		}
		sess.EndReason = reason.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
