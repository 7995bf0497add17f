package session

import (
	"context"
	"errors"
	"strings"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/store"
)

// PutPassage creates or replaces a word bank passage. Admins only.
func (m *Manager) PutPassage(ctx context.Context, id laotypo.Identity, p laotypo.Passage) (laotypo.Passage, error) {
	if !id.Authenticated() || !id.Admin {
		return laotypo.Passage{}, laotypo.Errorf(laotypo.KindPermissionDenied, "admin access required")
	}
	p.ID = strings.TrimSpace(p.ID)
	if err := p.Validate(); err != nil {
		return laotypo.Passage{}, laotypo.Errorf(laotypo.KindInvalidArgument, "%v", err)
	}
	saved, err := m.store.PutPassage(ctx, p)
	if err != nil {
		return laotypo.Passage{}, laotypo.Internal("saving passage", err)
	}
	m.logger.Info("passage saved", "passage_id", saved.ID, "words", len(saved.Words), "user_id", id.UserID)
	return saved, nil
}

func (m *Manager) Passage(ctx context.Context, passageID string) (laotypo.Passage, error) {
	p, err := m.store.Passage(ctx, passageID)
	if errors.Is(err, store.ErrNotFound) {
		return laotypo.Passage{}, laotypo.Errorf(laotypo.KindNotFound, "passage %s not found", passageID)
	}
	if err != nil {
		return laotypo.Passage{}, laotypo.Internal("loading passage", err)
	}
	return p, nil
}

func (m *Manager) ListPassages(ctx context.Context) ([]laotypo.Passage, error) {
	ps, err := m.store.ListPassages(ctx)
	if err != nil {
		return nil, laotypo.Internal("listing passages", err)
	}
	return ps, nil
}
