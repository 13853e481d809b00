package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"locterms-annotator/internal/model"
)

// ErrSessionNotFound marks a stale or unknown session id; the web layer maps
// it onto the errorCode 1 contract.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession starts a fresh annotation session for the entry.
func (s Store) CreateSession(ctx context.Context, entryID string) (model.Session, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return model.Session{}, ErrEntryNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.Session{}, err
	}
	defer db.Close()

	now := time.Now().UTC()
	sess := model.Session{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions(id, entry_id, notes, created_at_unixms, updated_at_unixms)
		VALUES(?, ?, '', ?, ?)`,
		sess.ID, entryID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// GetSession loads a session with its selection set.
func (s Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Session{}, ErrSessionNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.Session{}, err
	}
	defer db.Close()

	var sess model.Session
	var createdMs, updatedMs int64
	err = db.QueryRowContext(ctx,
		`SELECT id, entry_id, notes, created_at_unixms, updated_at_unixms FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.EntryID, &sess.Notes, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	sess.CreatedAt = time.UnixMilli(createdMs).UTC()
	sess.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	sess.Selected, err = queryKeys(ctx, db,
		`SELECT term_key FROM session_terms WHERE session_id = ? ORDER BY term_key`, id)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// ReplaceSelections overwrites the session's selection set with keys.
func (s Store) ReplaceSelections(ctx context.Context, sessionID string, keys []string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_terms WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_terms(session_id, term_key) VALUES(?, ?)`, sessionID, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetTopicTerms saves keys as the session's selection and mirrors them onto
// the entry's topic terms in one transaction: topics dropped from the set are
// unassigned, new ones assigned. A failure leaves both sides untouched.
func (s Store) SetTopicTerms(ctx context.Context, sessionID, entryID string, keys []string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return ErrEntryNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_terms WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	keep := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keep[k] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_terms(session_id, term_key) VALUES(?, ?)`, sessionID, k); err != nil {
			return err
		}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT term_key FROM entry_terms WHERE entry_id = ? AND facet = 'topic'`, entryID)
	if err != nil {
		return err
	}
	var dropped []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return err
		}
		if !keep[k] {
			dropped = append(dropped, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC().UnixMilli()
	for _, k := range dropped {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entry_terms WHERE entry_id = ? AND facet = 'topic' AND term_key = ?`, entryID, k); err != nil {
			return err
		}
	}
	for k := range keep {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entry_terms(entry_id, facet, term_key, added_at_unixms) VALUES(?, 'topic', ?, ?)`,
			entryID, k, now); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entries SET updated_at_unixms = ? WHERE id = ?`, now, entryID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetSessionNotes stores notes on the session.
func (s Store) SetSessionNotes(ctx context.Context, sessionID, notes string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET notes = ?, updated_at_unixms = ? WHERE id = ?`,
		notes, time.Now().UTC().UnixMilli(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ClearSession empties the session's selection set and notes. The session
// row itself stays; its lifecycle is driven by explicit client requests.
func (s Store) ClearSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_terms WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET notes = '' WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at_unixms = ? WHERE id = ?`,
		time.Now().UTC().UnixMilli(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
