// Package session runs the multiplayer session lifecycle: creating and
// joining sessions, the synchronized start, answer submission, the scoring
// triggers, finalization and retention cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/realtime"
	"github.com/laotypo/sessionsrv/internal/store"
)

const (
	DefaultWordTimerSeconds = 10
	DefaultCountdown        = 3 * time.Second
	MaxNameLength           = 30
	guestPrefix             = "guest_"
	triggerQueueSize        = 1024
)

// TokenIssuer mints the session-scoped token a player uses after joining.
type TokenIssuer interface {
	IssuePlayerToken(ref laotypo.PlayerRef) (string, error)
}

type Options struct {
	// MaxPlayers is the capacity given to sessions that do not ask for one.
	MaxPlayers int
	// Countdown is the pause between starting and active.
	Countdown time.Duration
}

type Manager struct {
	store  *store.Store
	tree   *realtime.Tree
	tokens TokenIssuer
	logger *slog.Logger
	opts   Options
	now    func() time.Time
	codes  func() (string, error)

	triggers   chan trigger
	stopped    chan struct{}
	stop       sync.Once
	background sync.WaitGroup
	// countdowns holds the IDs of sessions whose countdown timer lives in
	// this process.
	countdowns sync.Map
}

func NewManager(st *store.Store, tree *realtime.Tree, tokens TokenIssuer, logger *slog.Logger, opts Options) *Manager {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 50
	}
	return &Manager{
		store:    st,
		tree:     tree,
		tokens:   tokens,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		codes:    GenerateCode,
		triggers: make(chan trigger, triggerQueueSize),
		stopped:  make(chan struct{}),
	}
}

// Wait blocks until pending countdowns have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

func requireUser(id laotypo.Identity) error {
	if !id.Authenticated() {
		return laotypo.Errorf(laotypo.KindUnauthenticated, "sign in required")
	}
	return nil
}

type CreateRequest struct {
	Name             string `json:"name"`
	PassageID        string `json:"passageId"`
	Level            int    `json:"level"`
	MaxLives         int    `json:"maxLives"`
	WordTimerSeconds int    `json:"wordTimerSeconds,omitempty"`
	MaxPlayers       int    `json:"maxPlayers,omitempty"`
}

type Created struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

// CreateSession writes the session metadata, then its realtime tree. If the
// tree cannot be written the metadata row is removed again.
func (m *Manager) CreateSession(ctx context.Context, id laotypo.Identity, req CreateRequest) (Created, error) {
	if err := requireUser(id); err != nil {
		return Created{}, err
	}
	switch {
	case strings.TrimSpace(req.PassageID) == "":
		return Created{}, laotypo.Errorf(laotypo.KindInvalidArgument, "passageId is required")
	case req.Level <= 0:
		return Created{}, laotypo.Errorf(laotypo.KindInvalidArgument, "level is required")
	case req.MaxLives < 1:
		return Created{}, laotypo.Errorf(laotypo.KindInvalidArgument, "maxLives must be at least 1")
	case req.WordTimerSeconds < 0 || req.MaxPlayers < 0:
		return Created{}, laotypo.Errorf(laotypo.KindInvalidArgument, "negative session limits")
	}

	passage, err := m.store.Passage(ctx, req.PassageID)
	if errors.Is(err, store.ErrNotFound) {
		return Created{}, laotypo.Errorf(laotypo.KindInvalidArgument, "unknown passage %q", req.PassageID)
	}
	if err != nil {
		return Created{}, laotypo.Internal("loading passage", err)
	}

	sess := laotypo.Session{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(req.Name),
		HostID:           id.UserID,
		PassageID:        passage.ID,
		Level:            req.Level,
		MaxLives:         req.MaxLives,
		WordTimerSeconds: req.WordTimerSeconds,
		MaxPlayers:       req.MaxPlayers,
		Status:           laotypo.StatusWaiting,
		CreatedAt:        m.now(),
	}
	if sess.Name == "" {
		sess.Name = passage.Title
	}
	if sess.WordTimerSeconds == 0 {
		sess.WordTimerSeconds = DefaultWordTimerSeconds
	}
	if sess.MaxPlayers == 0 || sess.MaxPlayers > m.opts.MaxPlayers {
		sess.MaxPlayers = m.opts.MaxPlayers
	}

	if err := m.insertWithFreeCode(ctx, &sess); err != nil {
		return Created{}, laotypo.Internal("creating session", err)
	}

	if err := m.tree.Init(ctx, sess.ID); err != nil {
		if derr := m.store.DeleteSession(context.WithoutCancel(ctx), sess.ID); derr != nil {
			m.logger.Error("compensating failed session create",
				"session_id", sess.ID, "error", derr)
		}
		return Created{}, laotypo.Internal("initializing realtime state", err)
	}

	m.logger.Info("session created", "session_id", sess.ID, "code", sess.Code, "host_id", sess.HostID)
	return Created{SessionID: sess.ID, Code: sess.Code}, nil
}

// insertWithFreeCode retries with a fresh code when a concurrent create wins
// the unique index on live codes.
func (m *Manager) insertWithFreeCode(ctx context.Context, sess *laotypo.Session) error {
	for range maxCodeAttempts {
		code, err := freeCode(ctx, m.store, m.codes)
		if err != nil {
			return err
		}
		sess.Code = code
		err = m.store.CreateSession(ctx, *sess)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		return err
	}
	return errNoFreeCode
}

type Joined struct {
	SessionID   string `json:"sessionId"`
	PlayerID    string `json:"playerId"`
	PlayerToken string `json:"playerToken"`
}

// NormalizeCode trims and upper-cases a join code as typed by a player.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// JoinSession adds a player to the live session holding code. Signed-in
// callers join under their user id and may rejoin; everyone else gets a
// fresh guest id.
func (m *Manager) JoinSession(ctx context.Context, id laotypo.Identity, code, displayName string) (Joined, error) {
	code = NormalizeCode(code)
	name := strings.TrimSpace(displayName)
	if name == "" {
		return Joined{}, laotypo.Errorf(laotypo.KindInvalidArgument, "display name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return Joined{}, laotypo.Errorf(laotypo.KindInvalidArgument, "display name is longer than %d characters", MaxNameLength)
	}

	sess, err := m.store.LiveSessionByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return Joined{}, laotypo.Errorf(laotypo.KindNotFound, "no open session with code %s", code)
	}
	if err != nil {
		return Joined{}, laotypo.Internal("looking up session", err)
	}

	player := laotypo.Player{
		ID:             id.UserID,
		Name:           name,
		RemainingLives: sess.MaxLives,
		JoinedAt:       m.now(),
	}
	if !id.Authenticated() {
		player.ID = guestPrefix + uuid.NewString()
		player.Guest = true
	} else {
		existing, err := m.tree.Player(ctx, sess.ID, player.ID)
		switch {
		case err == nil:
			return m.joined(sess.ID, existing)
		case !errors.Is(err, realtime.ErrNotFound):
			return Joined{}, laotypo.Internal("reading player", err)
		}
	}

	if _, err := m.store.ReservePlayerSlot(ctx, sess.ID); err != nil {
		if errors.Is(err, store.ErrSessionFull) {
			return Joined{}, laotypo.Errorf(laotypo.KindResourceExhausted, "session is full")
		}
		return Joined{}, laotypo.Internal("reserving player slot", err)
	}

	created, err := m.tree.AddPlayer(ctx, sess.ID, player)
	if err != nil || !created {
		if rerr := m.store.ReleasePlayerSlot(context.WithoutCancel(ctx), sess.ID); rerr != nil {
			m.logger.Error("compensating failed join",
				"session_id", sess.ID, "player_id", player.ID, "error", rerr)
		}
		if err != nil {
			return Joined{}, laotypo.Internal("adding player", err)
		}
		// A concurrent join under the same user id won.
		return m.joined(sess.ID, player)
	}

	joined, err := m.joined(sess.ID, player)
	if err != nil {
		m.abandonJoin(context.WithoutCancel(ctx), sess.ID, player.ID)
		return Joined{}, err
	}
	m.logger.Info("player joined", "session_id", sess.ID, "player_id", player.ID, "guest", player.Guest)
	return joined, nil
}

// abandonJoin takes back a player who was added but never got a token, so
// they neither hold a slot nor keep the session from completing.
func (m *Manager) abandonJoin(ctx context.Context, sessionID, playerID string) {
	removed, err := m.tree.RemovePlayer(ctx, sessionID, playerID)
	if err != nil {
		m.logger.Error("compensating failed join", "session_id", sessionID, "player_id", playerID, "error", err)
		return
	}
	if !removed {
		return
	}
	if err := m.store.ReleasePlayerSlot(ctx, sessionID); err != nil {
		m.logger.Error("compensating failed join", "session_id", sessionID, "player_id", playerID, "error", err)
	}
}

func (m *Manager) joined(sessionID string, p laotypo.Player) (Joined, error) {
	token, err := m.tokens.IssuePlayerToken(laotypo.PlayerRef{SessionID: sessionID, PlayerID: p.ID, Name: p.Name})
	if err != nil {
		return Joined{}, laotypo.Internal("issuing player token", err)
	}
	return Joined{SessionID: sessionID, PlayerID: p.ID, PlayerToken: token}, nil
}

// StartGame moves a waiting session to starting and, after the countdown,
// to active. Only the host may start it.
func (m *Manager) StartGame(ctx context.Context, id laotypo.Identity, sessionID string) error {
	if err := requireUser(id); err != nil {
		return err
	}
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostID != id.UserID {
		return laotypo.Errorf(laotypo.KindPermissionDenied, "only the host can start this session")
	}
	if sess.Status != laotypo.StatusWaiting {
		return laotypo.Errorf(laotypo.KindInvalidArgument, "session is %s, not waiting", sess.Status)
	}

	players, err := m.tree.Players(ctx, sessionID)
	if err != nil {
		return laotypo.Internal("reading players", err)
	}
	if len(players) == 0 {
		return laotypo.Errorf(laotypo.KindInvalidArgument, "no players have joined")
	}

	ok, err := m.tree.CompareAndSetStatus(ctx, sessionID, laotypo.StatusWaiting, laotypo.StatusStarting)
	if err != nil {
		return laotypo.Internal("starting session", err)
	}
	if !ok {
		return m.resumeStart(ctx, sessionID)
	}
	m.logger.Info("session starting", "session_id", sessionID, "players", len(players), "countdown", m.opts.Countdown)

	if m.opts.Countdown <= 0 {
		return m.activate(ctx, sessionID)
	}
	bg := context.WithoutCancel(ctx)
	m.background.Add(1)
	m.countdowns.Store(sessionID, struct{}{})
	time.AfterFunc(m.opts.Countdown, func() {
		defer m.background.Done()
		defer m.countdowns.Delete(sessionID)
		if err := m.activate(bg, sessionID); err != nil {
			m.logger.Error("activating session", "session_id", sessionID, "error", err)
		}
	})
	return nil
}

// resumeStart finishes a start whose countdown no longer exists, for
// example because the process restarted while the session was starting.
func (m *Manager) resumeStart(ctx context.Context, sessionID string) error {
	status, err := m.tree.Status(ctx, sessionID)
	if err != nil {
		return laotypo.Internal("reading status", err)
	}
	if status != laotypo.StatusStarting {
		return laotypo.Errorf(laotypo.KindInvalidArgument, "session is %s, not waiting", status)
	}
	if _, counting := m.countdowns.Load(sessionID); counting {
		return laotypo.Errorf(laotypo.KindInvalidArgument, "session is already starting")
	}
	m.logger.Warn("resuming interrupted start", "session_id", sessionID)
	return m.activate(ctx, sessionID)
}

// activate marks the metadata active before the realtime status so answers
// are never accepted for a session the store still considers waiting.
func (m *Manager) activate(ctx context.Context, sessionID string) error {
	if _, err := m.store.MarkActive(ctx, sessionID, m.now()); err != nil {
		return laotypo.Internal("activating session", err)
	}
	if _, err := m.tree.CompareAndSetStatus(ctx, sessionID, laotypo.StatusStarting, laotypo.StatusActive); err != nil {
		return laotypo.Internal("activating session", err)
	}
	m.logger.Info("session active", "session_id", sessionID)
	return nil
}

func (m *Manager) session(ctx context.Context, sessionID string) (laotypo.Session, error) {
	sess, err := m.store.Session(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return laotypo.Session{}, laotypo.Errorf(laotypo.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return laotypo.Session{}, laotypo.Internal("loading session", err)
	}
	return sess, nil
}

// GetSession returns session metadata. A live session whose realtime tree
// is missing gets it recreated.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (laotypo.Session, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return laotypo.Session{}, err
	}
	if !sess.Status.Live() {
		return sess, nil
	}
	exists, err := m.tree.Exists(ctx, sessionID)
	if err != nil {
		return laotypo.Session{}, laotypo.Internal("checking realtime state", err)
	}
	if !exists {
		if err := m.reconcile(ctx, sess); err != nil {
			return laotypo.Session{}, laotypo.Internal("restoring realtime state", err)
		}
	}
	return sess, nil
}

func (m *Manager) reconcile(ctx context.Context, sess laotypo.Session) error {
	m.logger.Warn("realtime tree missing, reinitializing", "session_id", sess.ID, "status", sess.Status)
	if err := m.tree.Init(ctx, sess.ID); err != nil {
		return err
	}
	if sess.Status == laotypo.StatusActive {
		_, err := m.tree.CompareAndSetStatus(ctx, sess.ID, laotypo.StatusWaiting, laotypo.StatusActive)
		return err
	}
	return nil
}

// ListHostSessions returns the caller's sessions, newest first.
func (m *Manager) ListHostSessions(ctx context.Context, id laotypo.Identity) ([]store.HostSession, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}
	sessions, err := m.store.HostSessions(ctx, id.UserID)
	if err != nil {
		return nil, laotypo.Internal("listing sessions", err)
	}
	return sessions, nil
}

// Snapshot reads the whole realtime tree of a session.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (laotypo.Tree, error) {
	tree, err := m.tree.Read(ctx, sessionID)
	if errors.Is(err, realtime.ErrNotFound) {
		return laotypo.Tree{}, laotypo.Errorf(laotypo.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return laotypo.Tree{}, laotypo.Internal("reading realtime state", err)
	}
	return tree, nil
}

// SessionResults is the durable outcome of a finished session.
type SessionResults struct {
	Session   laotypo.Session               `json:"session"`
	Results   []laotypo.Result              `json:"results"`
	Snapshots []laotypo.LeaderboardSnapshot `json:"snapshots"`
	Analytics *laotypo.SessionAnalytics     `json:"analytics,omitempty"`
}

func (m *Manager) Results(ctx context.Context, sessionID string) (SessionResults, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return SessionResults{}, err
	}
	out := SessionResults{Session: sess}
	if out.Results, err = m.store.Results(ctx, sessionID); err != nil {
		return SessionResults{}, laotypo.Internal("loading results", err)
	}
	if out.Snapshots, err = m.store.Snapshots(ctx, sessionID); err != nil {
		return SessionResults{}, laotypo.Internal("loading snapshots", err)
	}
	a, err := m.store.Analytics(ctx, sessionID)
	switch {
	case err == nil:
		out.Analytics = &a
	case !errors.Is(err, store.ErrNotFound):
		return SessionResults{}, laotypo.Internal("loading analytics", err)
	}
	return out, nil
}

func (m *Manager) words(ctx context.Context, sessionID string) ([]laotypo.Word, error) {
	sess, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := m.store.Passage(ctx, sess.PassageID)
	if err != nil {
		return nil, fmt.Errorf("passage of session %s: %w", sessionID, err)
	}
	return p.Words, nil
}
