package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"locterms-annotator/internal/model"
)

var ErrEntryNotFound = errors.New("entry not found")

func (s Store) UpsertEntry(ctx context.Context, e model.Entry) error {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return errors.New("entry with empty id")
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO entries(id, owner, name, description, notes, updated_at_unixms)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			description = excluded.description,
			updated_at_unixms = excluded.updated_at_unixms`,
		id, strings.TrimSpace(e.Owner), strings.TrimSpace(e.Name),
		e.Description, e.Notes, now.UnixMilli())
	return err
}

// ImportEntriesJSON reads a JSON array of entries and stores it.
func (s Store) ImportEntriesJSON(ctx context.Context, r io.Reader) (int, error) {
	var entries []model.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decode entries: %w", err)
	}
	for _, e := range entries {
		if err := s.UpsertEntry(ctx, e); err != nil {
			return 0, err
		}
		for _, f := range []model.Facet{model.FacetTopic, model.FacetKind, model.FacetInterface} {
			if keys := e.TermsFor(f); len(keys) > 0 {
				if err := s.AssignTerms(ctx, e.ID, f, keys); err != nil {
					return 0, err
				}
			}
		}
	}
	return len(entries), nil
}

// GetEntry returns one entry with its assigned terms for all three facets.
func (s Store) GetEntry(ctx context.Context, id string) (model.Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Entry{}, ErrEntryNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.Entry{}, err
	}
	defer db.Close()
	return getEntry(ctx, db, id)
}

func getEntry(ctx context.Context, db *sql.DB, id string) (model.Entry, error) {
	var e model.Entry
	var tsMs int64
	err := db.QueryRowContext(ctx,
		`SELECT id, owner, name, description, notes, updated_at_unixms FROM entries WHERE id = ?`, id).
		Scan(&e.ID, &e.Owner, &e.Name, &e.Description, &e.Notes, &tsMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return model.Entry{}, err
	}
	e.UpdatedAt = time.UnixMilli(tsMs).UTC()

	rows, err := db.QueryContext(ctx,
		`SELECT facet, term_key FROM entry_terms WHERE entry_id = ? ORDER BY added_at_unixms, term_key`, id)
	if err != nil {
		return model.Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var facet, key string
		if err := rows.Scan(&facet, &key); err != nil {
			return model.Entry{}, err
		}
		switch model.Facet(facet) {
		case model.FacetTopic:
			e.Topics = append(e.Topics, key)
		case model.FacetKind:
			e.Kinds = append(e.Kinds, key)
		case model.FacetInterface:
			e.Interfaces = append(e.Interfaces, key)
		}
	}
	return e, rows.Err()
}

// NextUnannotated returns the first entry (by owner/name) without any topic
// term. When every entry is annotated it falls back to the first entry.
func (s Store) NextUnannotated(ctx context.Context) (model.Entry, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.Entry{}, err
	}
	defer db.Close()

	var id string
	err = db.QueryRowContext(ctx, `
		SELECT id FROM entries e
		WHERE NOT EXISTS (
			SELECT 1 FROM entry_terms t WHERE t.entry_id = e.id AND t.facet = 'topic'
		)
		ORDER BY owner, name LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = db.QueryRowContext(ctx, `SELECT id FROM entries ORDER BY owner, name LIMIT 1`).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return model.Entry{}, err
	}
	return getEntry(ctx, db, id)
}

// AssignTerms attaches keys to the entry under the given facet. Already
// assigned keys are left in place.
func (s Store) AssignTerms(ctx context.Context, entryID string, facet model.Facet, keys []string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return ErrEntryNotFound
	}
	if !facet.Valid() {
		return fmt.Errorf("invalid facet %q", facet)
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

	now := time.Now().UTC().UnixMilli()
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entry_terms(entry_id, facet, term_key, added_at_unixms) VALUES(?, ?, ?, ?)`,
			entryID, string(facet), k, now); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entries SET updated_at_unixms = ? WHERE id = ?`, now, entryID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTerm detaches one key from the entry under the given facet.
// Removing a key that is not assigned is a no-op.
func (s Store) RemoveTerm(ctx context.Context, entryID string, facet model.Facet, key string) error {
	entryID = strings.TrimSpace(entryID)
	key = strings.TrimSpace(key)
	if entryID == "" || key == "" {
		return nil
	}
	if !facet.Valid() {
		return fmt.Errorf("invalid facet %q", facet)
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx,
		`DELETE FROM entry_terms WHERE entry_id = ? AND facet = ? AND term_key = ?`,
		entryID, string(facet), key); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE entries SET updated_at_unixms = ? WHERE id = ?`, time.Now().UTC().UnixMilli(), entryID)
	return err
}

// SetEntryNotes stores free-text notes on the entry.
func (s Store) SetEntryNotes(ctx context.Context, entryID, notes string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return ErrEntryNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`UPDATE entries SET notes = ?, updated_at_unixms = ? WHERE id = ?`,
		notes, time.Now().UTC().UnixMilli(), entryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListAnnotated returns entries carrying at least one topic term, with the
// topic keys resolved to labels. This backs the `entries list` report.
func (s Store) ListAnnotated(ctx context.Context) ([]model.AnnotatedEntry, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ids, err := queryKeys(ctx, db, `
		SELECT DISTINCT e.id FROM entries e
		JOIN entry_terms t ON t.entry_id = e.id AND t.facet = 'topic'
		ORDER BY e.owner, e.name`)
	if err != nil {
		return nil, err
	}

	out := []model.AnnotatedEntry{}
	for _, id := range ids {
		e, err := getEntry(ctx, db, id)
		if err != nil {
			return nil, err
		}
		labels := map[string]string{}
		for _, k := range e.Topics {
			var label string
			err := db.QueryRowContext(ctx, `SELECT label FROM terms WHERE key = ?`, k).Scan(&label)
			if errors.Is(err, sql.ErrNoRows) {
				label = k
			} else if err != nil {
				return nil, err
			}
			labels[k] = label
		}
		out = append(out, model.AnnotatedEntry{Entry: e, Labels: labels})
	}
	return out, nil
}

// FindByTerm returns annotated entries carrying the given topic term.
func (s Store) FindByTerm(ctx context.Context, key string) ([]model.Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return []model.Entry{}, nil
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ids, err := queryKeys(ctx, db, `
		SELECT e.id FROM entries e
		JOIN entry_terms t ON t.entry_id = e.id AND t.facet = 'topic' AND t.term_key = ?
		ORDER BY e.owner, e.name`, key)
	if err != nil {
		return nil, err
	}
	out := []model.Entry{}
	for _, id := range ids {
		e, err := getEntry(ctx, db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// TermStats returns topic-term usage counts across all annotated entries,
// sorted by count descending then key. This backs the `terms stats` report.
func (s Store) TermStats(ctx context.Context) ([]model.TermCount, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT t.term_key, COALESCE(tm.label, t.term_key), COUNT(*) AS n
		FROM entry_terms t
		LEFT JOIN terms tm ON tm.key = t.term_key
		WHERE t.facet = 'topic'
		GROUP BY t.term_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.TermCount{}
	for rows.Next() {
		var tc model.TermCount
		if err := rows.Scan(&tc.Key, &tc.Label, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// MaxAnnotations returns the highest topic-term count on any entry and the
// entries carrying that many terms.
func (s Store) MaxAnnotations(ctx context.Context) (int, []model.Entry, error) {
	annotated, err := s.ListAnnotated(ctx)
	if err != nil {
		return 0, nil, err
	}
	max := 0
	var entries []model.Entry
	for _, ae := range annotated {
		n := len(ae.Entry.Topics)
		switch {
		case n > max:
			max = n
			entries = []model.Entry{ae.Entry}
		case n == max && n > 0:
			entries = append(entries, ae.Entry)
		}
	}
	return max, entries, nil
}
