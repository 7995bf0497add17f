package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps, broker *Broker) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("LaoTypo API", "/openapi.json", "/docs"))

	// Routes authenticated by an optional user bearer token.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware(d.Auth))

		r.Post("/api/sessions", handleCreateSession(logger, d.Sessions))
		r.Post("/api/sessions/join", handleJoin(logger, d.Sessions))
		r.Get("/api/host/sessions", handleHostSessions(logger, d.Sessions))

		r.Get("/api/sessions/{id}", handleGetSession(logger, d.Sessions))
		r.Post("/api/sessions/{id}/start", handleStart(logger, d.Sessions))
		r.Get("/api/sessions/{id}/state", handleState(logger, d.Sessions))
		r.Get("/api/sessions/{id}/messages", handleMessages(logger, d.Sessions))
		r.Get("/api/sessions/{id}/results", handleResults(logger, d.Sessions))
		r.Get("/api/sessions/{id}/events", handleEvents(logger, d.Sessions, broker))
		r.Get("/api/sessions/{id}/ws", handleWS(logger, d.Sessions, broker))
		r.Get("/api/sessions/{id}/qr.png", handleQR(logger, d.Sessions, d.PublicBaseURL))

		r.Post("/api/scores/validate", handleValidate(logger, d.Validator))
		r.Get("/api/leaderboard", handleLeaderboard(logger, d.Validator))
		r.Get("/api/me/history", handleHistory(logger, d.Validator))
		r.Get("/api/me/stats", handleStats(logger, d.Validator))

		r.Get("/api/passages", handleListPassages(logger, d.Sessions))
		r.Get("/api/passages/{id}", handleGetPassage(logger, d.Sessions))
		r.Put("/api/passages/{id}", handlePutPassage(logger, d.Sessions))

		r.Post("/api/admin/sweep", handleSweep(logger, d.Sweeper))
		r.Get("/api/admin/entries/{id}/answers", handleEntryAnswers(logger, d.Validator))
	})

	// Routes authenticated by a player token for the session in the path.
	r.Group(func(r chi.Router) {
		r.Use(playerMiddleware(d.Auth))
		r.Post("/api/sessions/{id}/answers", handleAnswer(logger, d.Sessions))
		r.Post("/api/sessions/{id}/messages", handlePostMessage(logger, d.Sessions))
	})
}
