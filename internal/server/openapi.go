package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/laotypo/sessionsrv/internal/handler/health"
	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
	"github.com/laotypo/sessionsrv/internal/validation"
)

type idParam struct {
	ID string `path:"id"`
}

type limitParam struct {
	Limit int `query:"limit" description:"Maximum number of rows."`
}

type operation struct {
	method, path  string
	summary, desc string
	params        any
	req           any
	resp          any
	status        int
	contentType   string
	errors        []int
}

var operations = []operation{
	{
		method: http.MethodGet, path: "/healthz",
		summary: "Health check", desc: "Returns the health status of SQLite and Redis. Responds 503 with the same body when a check fails.",
		resp: health.Report{}, status: http.StatusOK,
	},
	{
		method: http.MethodPost, path: "/api/sessions",
		summary: "Create session", desc: "Creates a waiting session for the signed-in host. Requires a user bearer token.",
		req: session.CreateRequest{}, resp: CreateSessionResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized},
	},
	{
		method: http.MethodPost, path: "/api/sessions/join",
		summary: "Join session", desc: "Joins the open session holding the code. Returns a player token. A user bearer token is optional.",
		req: JoinRequest{}, resp: JoinResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests},
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}",
		params: idParam{},
		summary: "Get session", desc: "Returns session metadata.",
		resp: SessionResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPost, path: "/api/sessions/{id}/start",
		params: idParam{},
		summary: "Start game", desc: "Starts the countdown for a waiting session. Host only.",
		resp: OKResponse{}, status: http.StatusAccepted,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	},
	{
		method: http.MethodGet, path: "/api/host/sessions",
		summary: "Host dashboard", desc: "Lists the caller's sessions, newest first, with analytics for finished ones.",
		resp: HostSessionsResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized},
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/state",
		params: idParam{},
		summary: "Realtime snapshot", desc: "Returns the whole realtime state: status, players, leaderboard, messages and game events.",
		resp: StateResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPost, path: "/api/sessions/{id}/answers",
		params: idParam{},
		summary: "Submit answer", desc: "Records an answer for the current player. Requires the player token.",
		req: AnswerRequest{}, resp: AnswerResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/messages",
		params: idParam{},
		summary: "Chat messages", desc: "Returns the last 50 chat messages.",
		resp: MessagesResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPost, path: "/api/sessions/{id}/messages",
		params: idParam{},
		summary: "Post chat message", desc: "Posts a chat message. Requires the player token.",
		req: MessageRequest{}, resp: MessageResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/events",
		params: idParam{},
		summary: "SSE event stream", desc: "Server-Sent Events: a snapshot event, then one event per realtime change.",
		status: http.StatusOK, contentType: "text/event-stream",
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/ws",
		params: idParam{},
		summary: "WebSocket stream", desc: "Upgrades to a WebSocket carrying the same snapshot and change frames as the SSE stream.",
		status: http.StatusSwitchingProtocols, contentType: "text/plain",
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/qr.png",
		params: idParam{},
		summary: "Join QR code", desc: "PNG QR code linking to the join page for an open session.",
		status: http.StatusOK, contentType: "image/png",
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodGet, path: "/api/sessions/{id}/results",
		params: idParam{},
		summary: "Session results", desc: "Durable results, leaderboard snapshots and analytics of a session.",
		resp: ResultsResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPost, path: "/api/scores/validate",
		summary: "Validate game score", desc: "Recomputes a finished game's score on the server and records it on the global leaderboard.",
		req: validation.Submission{}, resp: validation.Outcome{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized},
	},
	{
		method: http.MethodGet, path: "/api/leaderboard",
		params: limitParam{},
		summary: "Global leaderboard", desc: "Validated games by score. limit defaults to 10, capped at 100.",
		resp: LeaderboardResponse{}, status: http.StatusOK,
	},
	{
		method: http.MethodGet, path: "/api/me/history",
		params: limitParam{},
		summary: "Game history", desc: "The caller's validated games, newest first.",
		resp: HistoryResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized},
	},
	{
		method: http.MethodGet, path: "/api/me/stats",
		summary: "User stats", desc: "The caller's cumulative stats.",
		resp: StatsResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized},
	},
	{
		method: http.MethodGet, path: "/api/passages",
		summary: "List passages", desc: "Every word bank passage.",
		resp: PassagesResponse{}, status: http.StatusOK,
	},
	{
		method: http.MethodGet, path: "/api/passages/{id}",
		params: idParam{},
		summary: "Get passage", desc: "One word bank passage.",
		resp: PassageResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPut, path: "/api/passages/{id}",
		params: idParam{},
		summary: "Save passage", desc: "Creates or replaces a passage. Requires a user bearer token and X-Admin-Key.",
		req: laotypo.Passage{}, resp: PassageResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden},
	},
	{
		method: http.MethodPost, path: "/api/admin/sweep",
		summary: "Run cleanup", desc: "Deletes expired sessions and orphaned realtime state. Requires a user bearer token and X-Admin-Key.",
		resp: SweepResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden},
	},
	{
		method: http.MethodGet, path: "/api/admin/entries/{id}/answers",
		params: idParam{},
		summary: "Entry answers", desc: "The answer history a validated leaderboard entry was scored from. Requires a user bearer token and X-Admin-Key.",
		resp: AnswersResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "LaoTypo API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Session lifecycle and score validation for the LaoTypo typing quiz.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.desc)
		if op.params != nil {
			oc.AddReqStructure(op.params)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		if op.contentType != "" {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType(op.contentType))
		} else {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		}
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}
	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
