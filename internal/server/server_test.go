package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/laotypo/sessionsrv/internal/auth"
	"github.com/laotypo/sessionsrv/internal/database"
	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/migrations"
	"github.com/laotypo/sessionsrv/internal/realtime"
	"github.com/laotypo/sessionsrv/internal/session"
	"github.com/laotypo/sessionsrv/internal/store"
	"github.com/laotypo/sessionsrv/internal/validation"
)

const testAdminKey = "let-me-in"

var answers = []string{"ແມວ", "ໝາ", "ນົກ", "ປາ"}

type testEnv struct {
	srv  *Server
	auth *auth.Authenticator
	h    http.Handler
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t, 50).srv
}

func newTestEnv(t *testing.T, maxPlayers int) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	st := store.New(db)
	words := make([]laotypo.Word, len(answers))
	for i, a := range answers {
		words[i] = laotypo.Word{Word: "w", Correct: a, Difficulty: "easy"}
	}
	if _, err := st.PutPassage(ctx, laotypo.Passage{ID: "p1", Title: "Animals", Level: 1, Words: words}); err != nil {
		t.Fatalf("seed passage: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := realtime.New(rdb, logger)
	a := auth.New("test-secret", "laotypo", string(hash))
	m := session.NewManager(st, tree, a, logger, session.Options{MaxPlayers: maxPlayers})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunTriggers(runCtx, 2)
	}()

	srv := New(":0", logger, Deps{
		Sessions:      m,
		Sweeper:       session.NewSweeper(m, session.DefaultRetention, time.Hour),
		Validator:     validation.New(st, logger, validation.DefaultTolerance),
		Auth:          a,
		Tree:          tree,
		PublicBaseURL: "https://laotypo.test",
	}, nil)
	t.Cleanup(func() {
		srv.broker.Close()
		cancel()
		<-done
	})

	return &testEnv{srv: srv, auth: a, h: srv.Handler()}
}

func (e *testEnv) userToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.IssueUserToken(userID, "User "+userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}
	return token
}

type call struct {
	method, path string
	token        string
	adminKey     string
	body         any
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		switch b := c.body.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			body = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.adminKey != "" {
		req.Header.Set(adminKeyHeader, c.adminKey)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createSession(t *testing.T, hostToken string) CreateSessionResponse {
	t.Helper()
	rec := e.do(t, call{
		method: http.MethodPost, path: "/api/sessions", token: hostToken,
		body: session.CreateRequest{Name: "Class 4B", PassageID: "p1", Level: 1, MaxLives: 3},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[CreateSessionResponse](t, rec)
}

func (e *testEnv) joinSession(t *testing.T, code, name string) JoinResponse {
	t.Helper()
	rec := e.do(t, call{
		method: http.MethodPost, path: "/api/sessions/join",
		body: JoinRequest{Code: code, PlayerName: name},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[JoinResponse](t, rec)
}

func TestGameOverHTTP(t *testing.T) {
	e := newTestEnv(t, 50)
	host := e.userToken(t, "host-1")

	created := e.createSession(t, host)
	if !created.Success || len(created.Code) != laotypo.CodeLength {
		t.Fatalf("created = %+v", created)
	}
	joined := e.joinSession(t, strings.ToLower(created.Code), "Alice")
	if joined.SessionID != created.SessionID || joined.PlayerToken == "" {
		t.Fatalf("joined = %+v", joined)
	}

	base := "/api/sessions/" + created.SessionID
	if rec := e.do(t, call{method: http.MethodPost, path: base + "/start"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous start status = %d, want 401", rec.Code)
	}
	if rec := e.do(t, call{method: http.MethodPost, path: base + "/start", token: e.userToken(t, "host-2")}); rec.Code != http.StatusForbidden {
		t.Fatalf("other host start status = %d, want 403", rec.Code)
	}
	if rec := e.do(t, call{method: http.MethodPost, path: base + "/start", token: host}); rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	for i, a := range answers {
		idx := i
		rec := e.do(t, call{
			method: http.MethodPost, path: base + "/answers", token: joined.PlayerToken,
			body: AnswerRequest{WordIndex: &idx, Answer: a},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("answer %d status = %d, body %s", i, rec.Code, rec.Body.String())
		}
		out := decode[AnswerResponse](t, rec)
		if !out.Correct || out.CurrentIndex != i+1 {
			t.Fatalf("answer %d = %+v", i, out)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := e.do(t, call{method: http.MethodGet, path: base + "/results"})
		if rec.Code != http.StatusOK {
			t.Fatalf("results status = %d", rec.Code)
		}
		res := decode[ResultsResponse](t, rec)
		if len(res.Results) == 1 {
			if res.Session.Status != laotypo.StatusCompleted {
				t.Errorf("session status = %q, want completed", res.Session.Status)
			}
			if res.Results[0].PlayerName != "Alice" || res.Results[0].CorrectAnswers != len(answers) {
				t.Errorf("result = %+v", res.Results[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rec := e.do(t, call{method: http.MethodGet, path: base + "/qr.png"}); rec.Code != http.StatusNotFound {
		t.Errorf("qr for completed session status = %d, want 404", rec.Code)
	}

	rec := e.do(t, call{method: http.MethodGet, path: "/api/host/sessions", token: host})
	if rec.Code != http.StatusOK {
		t.Fatalf("host sessions status = %d", rec.Code)
	}
	if list := decode[HostSessionsResponse](t, rec); len(list.Sessions) != 1 {
		t.Errorf("host sessions = %d, want 1", len(list.Sessions))
	}
}

func TestErrorStatuses(t *testing.T) {
	e := newTestEnv(t, 1)
	host := e.userToken(t, "host-1")
	first := e.createSession(t, host)
	second := e.createSession(t, host)
	player := e.joinSession(t, first.Code, "Alice")
	zero := 0

	tests := []struct {
		name       string
		call       call
		wantStatus int
		wantKind   laotypo.ErrorKind
	}{
		{
			name:       "bad bearer token",
			call:       call{method: http.MethodGet, path: "/api/me/stats", token: "garbage"},
			wantStatus: http.StatusUnauthorized,
			wantKind:   laotypo.KindUnauthenticated,
		},
		{
			name:       "create without sign in",
			call:       call{method: http.MethodPost, path: "/api/sessions", body: session.CreateRequest{PassageID: "p1", Level: 1, MaxLives: 3}},
			wantStatus: http.StatusUnauthorized,
			wantKind:   laotypo.KindUnauthenticated,
		},
		{
			name:       "malformed body",
			call:       call{method: http.MethodPost, path: "/api/sessions", token: host, body: "{"},
			wantStatus: http.StatusBadRequest,
			wantKind:   laotypo.KindInvalidArgument,
		},
		{
			name:       "unknown passage",
			call:       call{method: http.MethodPost, path: "/api/sessions", token: host, body: session.CreateRequest{PassageID: "nope", Level: 1, MaxLives: 3}},
			wantStatus: http.StatusBadRequest,
			wantKind:   laotypo.KindInvalidArgument,
		},
		{
			name:       "unknown code",
			call:       call{method: http.MethodPost, path: "/api/sessions/join", body: JoinRequest{Code: "ZZZZZZ", PlayerName: "Bob"}},
			wantStatus: http.StatusNotFound,
			wantKind:   laotypo.KindNotFound,
		},
		{
			name:       "session full",
			call:       call{method: http.MethodPost, path: "/api/sessions/join", body: JoinRequest{Code: first.Code, PlayerName: "Bob"}},
			wantStatus: http.StatusTooManyRequests,
			wantKind:   laotypo.KindResourceExhausted,
		},
		{
			name:       "unknown session",
			call:       call{method: http.MethodGet, path: "/api/sessions/missing"},
			wantStatus: http.StatusNotFound,
			wantKind:   laotypo.KindNotFound,
		},
		{
			name:       "answer without player token",
			call:       call{method: http.MethodPost, path: "/api/sessions/" + first.SessionID + "/answers", body: AnswerRequest{WordIndex: &zero, Answer: "x"}},
			wantStatus: http.StatusUnauthorized,
			wantKind:   laotypo.KindUnauthenticated,
		},
		{
			name:       "user token is not a player token",
			call:       call{method: http.MethodPost, path: "/api/sessions/" + first.SessionID + "/answers", token: host, body: AnswerRequest{WordIndex: &zero, Answer: "x"}},
			wantStatus: http.StatusUnauthorized,
			wantKind:   laotypo.KindUnauthenticated,
		},
		{
			name:       "player token for another session",
			call:       call{method: http.MethodPost, path: "/api/sessions/" + second.SessionID + "/messages", token: player.PlayerToken, body: MessageRequest{Text: "hi"}},
			wantStatus: http.StatusForbidden,
			wantKind:   laotypo.KindPermissionDenied,
		},
		{
			name:       "answer before start",
			call:       call{method: http.MethodPost, path: "/api/sessions/" + first.SessionID + "/answers", token: player.PlayerToken, body: AnswerRequest{WordIndex: &zero, Answer: "x"}},
			wantStatus: http.StatusBadRequest,
			wantKind:   laotypo.KindInvalidArgument,
		},
		{
			name:       "missing word index",
			call:       call{method: http.MethodPost, path: "/api/sessions/" + first.SessionID + "/answers", token: player.PlayerToken, body: map[string]string{"answer": "x"}},
			wantStatus: http.StatusBadRequest,
			wantKind:   laotypo.KindInvalidArgument,
		},
		{
			name:       "non numeric limit",
			call:       call{method: http.MethodGet, path: "/api/leaderboard?limit=ten"},
			wantStatus: http.StatusBadRequest,
			wantKind:   laotypo.KindInvalidArgument,
		},
		{
			name:       "validate without sign in",
			call:       call{method: http.MethodPost, path: "/api/scores/validate", body: validation.Submission{}},
			wantStatus: http.StatusUnauthorized,
			wantKind:   laotypo.KindUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.call)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decode[ErrorResponse](t, rec)
			if body.Success || body.Kind != tt.wantKind || body.Error == "" {
				t.Errorf("body = %+v, want kind %q", body, tt.wantKind)
			}
		})
	}
}

func TestChatOverHTTP(t *testing.T) {
	e := newTestEnv(t, 50)
	created := e.createSession(t, e.userToken(t, "host-1"))
	player := e.joinSession(t, created.Code, "Alice")
	path := "/api/sessions/" + created.SessionID + "/messages"

	rec := e.do(t, call{method: http.MethodPost, path: path, token: player.PlayerToken, body: MessageRequest{Text: "  sabaidee  "}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post status = %d, body %s", rec.Code, rec.Body.String())
	}
	if msg := decode[MessageResponse](t, rec).Message; msg.Text != "sabaidee" || msg.PlayerName != "Alice" {
		t.Errorf("message = %+v", msg)
	}

	rec = e.do(t, call{method: http.MethodGet, path: path})
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if msgs := decode[MessagesResponse](t, rec).Messages; len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
}

func TestQRCode(t *testing.T) {
	e := newTestEnv(t, 50)
	created := e.createSession(t, e.userToken(t, "host-1"))

	rec := e.do(t, call{method: http.MethodGet, path: "/api/sessions/" + created.SessionID + "/qr.png"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content-type = %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, 50)
	user := e.userToken(t, "user-1")
	passage := laotypo.Passage{Title: "Fruit", Level: 2, Words: []laotypo.Word{{Word: "banana", Correct: "ກ້ວຍ", Difficulty: "medium"}}}

	tests := []struct {
		name       string
		call       call
		wantStatus int
	}{
		{"sweep anonymous", call{method: http.MethodPost, path: "/api/admin/sweep"}, http.StatusUnauthorized},
		{"sweep without key", call{method: http.MethodPost, path: "/api/admin/sweep", token: user}, http.StatusForbidden},
		{"sweep wrong key", call{method: http.MethodPost, path: "/api/admin/sweep", token: user, adminKey: "nope"}, http.StatusForbidden},
		{"sweep admin", call{method: http.MethodPost, path: "/api/admin/sweep", token: user, adminKey: testAdminKey}, http.StatusOK},
		{"put passage without key", call{method: http.MethodPut, path: "/api/passages/p2", token: user, body: passage}, http.StatusForbidden},
		{"put passage admin", call{method: http.MethodPut, path: "/api/passages/p2", token: user, adminKey: testAdminKey, body: passage}, http.StatusOK},
		{"put empty passage", call{method: http.MethodPut, path: "/api/passages/p3", token: user, adminKey: testAdminKey, body: laotypo.Passage{Title: "Empty"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(t, tt.call); rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := e.do(t, call{method: http.MethodGet, path: "/api/passages/p2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("get passage status = %d", rec.Code)
	}
	if p := decode[PassageResponse](t, rec).Passage; p.ID != "p2" || len(p.Words) != 1 {
		t.Errorf("passage = %+v", p)
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/api/passages"})
	if ps := decode[PassagesResponse](t, rec).Passages; len(ps) != 2 {
		t.Errorf("passages = %d, want 2", len(ps))
	}
}

func TestValidateAndLeaderboard(t *testing.T) {
	e := newTestEnv(t, 50)
	user := e.userToken(t, "user-1")

	sub := validation.Submission{
		GameData: &validation.GameData{PlayerName: "Alice", FinalScore: 30},
		AnswerHistory: []laotypo.Answer{
			{WordIndex: 0, Answer: answers[0]},
			{WordIndex: 1, Answer: answers[1]},
			{WordIndex: 2, Answer: "wrong"},
		},
		WordData: []laotypo.Word{
			{Correct: answers[0], Difficulty: "easy"},
			{Correct: answers[1], Difficulty: "easy"},
			{Correct: answers[2], Difficulty: "easy"},
		},
	}
	rec := e.do(t, call{method: http.MethodPost, path: "/api/scores/validate", token: user, body: sub})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := decode[validation.Outcome](t, rec)
	// 10 for the first word, 11 for the second on a streak of two.
	if !out.Success || out.ValidatedScore != 21 {
		t.Fatalf("outcome = %+v", out)
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/api/leaderboard?limit=5"})
	board := decode[LeaderboardResponse](t, rec).Leaderboard
	if len(board) != 1 || board[0].FinalScore != 21 || board[0].PlayerName != "Alice" {
		t.Fatalf("leaderboard = %+v", board)
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/api/me/stats", token: user})
	if stats := decode[StatsResponse](t, rec).Stats; stats.TotalGames != 1 || stats.BestScore != 21 {
		t.Errorf("stats = %+v", stats)
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/api/me/history", token: user})
	if history := decode[HistoryResponse](t, rec).History; len(history) != 1 {
		t.Errorf("history = %d, want 1", len(history))
	}

	answersPath := "/api/admin/entries/" + board[0].ID + "/answers"
	statuses := []struct {
		name string
		c    call
		want int
	}{
		{"anonymous", call{method: http.MethodGet, path: answersPath}, http.StatusUnauthorized},
		{"without key", call{method: http.MethodGet, path: answersPath, token: user}, http.StatusForbidden},
		{"unknown entry", call{method: http.MethodGet, path: "/api/admin/entries/nope/answers", token: user, adminKey: testAdminKey}, http.StatusNotFound},
	}
	for _, tt := range statuses {
		if rec := e.do(t, tt.c); rec.Code != tt.want {
			t.Errorf("answers %s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
	rec = e.do(t, call{method: http.MethodGet, path: answersPath, token: user, adminKey: testAdminKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("answers status = %d, body %s", rec.Code, rec.Body.String())
	}
	audit := decode[AnswersResponse](t, rec)
	if audit.EntryID != board[0].ID || len(audit.Answers) != 3 || audit.Answers[2].Answer != "wrong" {
		t.Errorf("answers = %+v", audit)
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body io.Reader) <-chan sseEvent {
	t.Helper()
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, 50)
	created := e.createSession(t, e.userToken(t, "host-1"))

	ts := httptest.NewServer(e.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+created.SessionID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content-type = %q", got)
	}

	events := readEvents(t, resp.Body)
	next := func() sseEvent {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return sseEvent{}
	}

	snap := next()
	if snap.name != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", snap.name)
	}
	var tree laotypo.Tree
	if err := json.Unmarshal([]byte(snap.data), &tree); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if tree.Status != laotypo.StatusWaiting {
		t.Errorf("snapshot status = %q", tree.Status)
	}

	e.joinSession(t, created.Code, "Alice")

	ev := next()
	if ev.name != string(realtime.ChangePlayerJoined) {
		t.Fatalf("event = %q, want %s", ev.name, realtime.ChangePlayerJoined)
	}
	var change realtime.Change
	if err := json.Unmarshal([]byte(ev.data), &change); err != nil {
		t.Fatalf("decoding change: %v", err)
	}
	if change.PlayerName != "Alice" || change.SessionID != created.SessionID {
		t.Errorf("change = %+v", change)
	}
}

func TestEventStreamUnknownSession(t *testing.T) {
	e := newTestEnv(t, 50)
	rec := e.do(t, call{method: http.MethodGet, path: "/api/sessions/missing/events"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
