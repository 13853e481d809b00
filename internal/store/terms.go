package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"locterms-annotator/internal/model"
)

var ErrTermNotFound = errors.New("term not found")

// TermNode is a term plus the child-presence flag the tree widget needs to
// decide whether a node is lazily expandable.
type TermNode struct {
	model.Term
	HasNarrower bool
}

// UpsertTerms stores terms and their broader/narrower edges in one
// transaction. Edges may be declared from either side of the relation.
func (s Store) UpsertTerms(ctx context.Context, terms []model.Term) error {
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

	for _, t := range terms {
		key := strings.TrimSpace(t.Key)
		if key == "" {
			return errors.New("term with empty key")
		}
		label := strings.TrimSpace(t.Label)
		if label == "" {
			label = key
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO terms(key, label) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET label = excluded.label`, key, label); err != nil {
			return err
		}
		for _, b := range t.Broader {
			b = strings.TrimSpace(b)
			if b == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO term_edges(broader, narrower) VALUES(?, ?)`, b, key); err != nil {
				return err
			}
		}
		for _, n := range t.Narrower {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO term_edges(broader, narrower) VALUES(?, ?)`, key, n); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ImportTermsJSON reads a JSON array of terms and stores it.
func (s Store) ImportTermsJSON(ctx context.Context, r io.Reader) (int, error) {
	var terms []model.Term
	if err := json.NewDecoder(r).Decode(&terms); err != nil {
		return 0, fmt.Errorf("decode terms: %w", err)
	}
	if err := s.UpsertTerms(ctx, terms); err != nil {
		return 0, err
	}
	return len(terms), nil
}

// GetTerm returns one term with its broader and narrower keys resolved.
func (s Store) GetTerm(ctx context.Context, key string) (model.Term, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return model.Term{}, ErrTermNotFound
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.Term{}, err
	}
	defer db.Close()

	var t model.Term
	err = db.QueryRowContext(ctx, `SELECT key, label FROM terms WHERE key = ?`, key).Scan(&t.Key, &t.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Term{}, ErrTermNotFound
	}
	if err != nil {
		return model.Term{}, err
	}

	t.Broader, err = queryKeys(ctx, db, `SELECT broader FROM term_edges WHERE narrower = ? ORDER BY broader`, key)
	if err != nil {
		return model.Term{}, err
	}
	t.Narrower, err = queryKeys(ctx, db, `SELECT narrower FROM term_edges WHERE broader = ? ORDER BY narrower`, key)
	if err != nil {
		return model.Term{}, err
	}
	return t, nil
}

// TermExists reports whether key is a known heading.
func (s Store) TermExists(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM terms WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RootTerms returns the headings with no broader term, sorted by label.
// These form the top level of the tree widget.
func (s Store) RootTerms(ctx context.Context) ([]TermNode, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryTermNodes(ctx, db, `
		SELECT t.key, t.label,
		       EXISTS (SELECT 1 FROM term_edges c WHERE c.broader = t.key) AS has_narrower
		FROM terms t
		WHERE NOT EXISTS (SELECT 1 FROM term_edges e WHERE e.narrower = t.key)
		ORDER BY t.label, t.key`)
}

// NarrowerOf returns the direct narrower terms of key, sorted by label.
// Unknown keys yield an empty slice, matching the AJAX contract.
func (s Store) NarrowerOf(ctx context.Context, key string) ([]TermNode, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return []TermNode{}, nil
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryTermNodes(ctx, db, `
		SELECT t.key, t.label,
		       EXISTS (SELECT 1 FROM term_edges c WHERE c.broader = t.key) AS has_narrower
		FROM terms t
		JOIN term_edges e ON e.narrower = t.key
		WHERE e.broader = ?
		ORDER BY t.label, t.key`, key)
}

// TermLabels resolves keys to labels; unknown keys map to themselves.
func (s Store) TermLabels(ctx context.Context, keys []string) (map[string]string, error) {
	out := map[string]string{}
	if len(keys) == 0 {
		return out, nil
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		var label string
		err := db.QueryRowContext(ctx, `SELECT label FROM terms WHERE key = ?`, k).Scan(&label)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out[k] = k
		case err != nil:
			return nil, err
		default:
			out[k] = label
		}
	}
	return out, nil
}

func queryTermNodes(ctx context.Context, db *sql.DB, q string, args ...any) ([]TermNode, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TermNode{}
	for rows.Next() {
		var n TermNode
		var hasNarrower int
		if err := rows.Scan(&n.Key, &n.Label, &hasNarrower); err != nil {
			return nil, err
		}
		n.HasNarrower = hasNarrower != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func queryKeys(ctx context.Context, db *sql.DB, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out, rows.Err()
}
