package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

// PutPassage inserts or replaces a passage, keeping its original creation
// time on update.
func (s *Store) PutPassage(ctx context.Context, p laotypo.Passage) (laotypo.Passage, error) {
	now := time.Now().UTC()
	existing, err := s.Passage(ctx, p.ID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		p.CreatedAt = now
	default:
		return laotypo.Passage{}, err
	}
	p.UpdatedAt = now

	if err := p.Validate(); err != nil {
		return laotypo.Passage{}, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return laotypo.Passage{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO passages (id, level, updated_at, data) VALUES (?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET level = excluded.level, updated_at = excluded.updated_at, data = excluded.data`,
		p.ID, p.Level, millis(now), string(data),
	)
	if err != nil {
		return laotypo.Passage{}, fmt.Errorf("saving passage %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Store) Passage(ctx context.Context, id string) (laotypo.Passage, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM passages WHERE id = ?`, id,
	).Scan(&data)
	if err != nil {
		return laotypo.Passage{}, notFound(err, "passage "+id)
	}
	var p laotypo.Passage
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return laotypo.Passage{}, fmt.Errorf("decoding passage %s: %w", id, err)
	}
	if err := p.Validate(); err != nil {
		return laotypo.Passage{}, fmt.Errorf("reading passage: %w", err)
	}
	return p, nil
}

// ListPassages returns every passage, most recently updated first.
func (s *Store) ListPassages(ctx context.Context) ([]laotypo.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(data) FROM passages ORDER BY updated_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	passages := []laotypo.Passage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p laotypo.Passage
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decoding passage: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}
