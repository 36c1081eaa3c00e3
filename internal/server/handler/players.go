package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/server/middleware"
)

// PlayerQueries is the read side behind the player, leaderboard and stats
// endpoints.
type PlayerQueries interface {
	GetPlayerStats(ctx context.Context, address string) (domain.PlayerStats, error)
	ListPlayers(ctx context.Context, opts domain.ListOpts) ([]domain.PlayerStats, error)
	GetLeaderboard(ctx context.Context, opts domain.ListOpts) ([]domain.LeaderboardEntry, error)
	GetGlobalStats(ctx context.Context) (domain.GlobalStats, error)
}

// UsernameSetter renames the calling player.
type UsernameSetter interface {
	SetUsername(ctx context.Context, call domain.Call, name string) (domain.PlayerStats, error)
}

// PlayerHandler serves players, the leaderboard and global stats.
type PlayerHandler struct {
	queries PlayerQueries
	names   UsernameSetter
	logger  *slog.Logger
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(queries PlayerQueries, names UsernameSetter, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{queries: queries, names: names, logger: logger.With(slog.String("handler", "players"))}
}

type usernameRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

// List returns players in first-interaction order.
// GET /api/players?limit=50&offset=0
func (h *PlayerHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list players", err)
		return
	}
	players, err := h.queries.ListPlayers(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list players", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(players, opts))
}

// Get returns one player's stats.
// GET /api/players/{address}
func (h *PlayerHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.queries.GetPlayerStats(r.Context(), r.PathValue("address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get player", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetUsername renames the caller.
// PUT /api/players/me/username
func (h *PlayerHandler) SetUsername(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "set username", err)
		return
	}
	p, err := h.names.SetUsername(r.Context(), middleware.CallFrom(r.Context()), req.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, "set username", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Leaderboard returns one page of the ranking.
// GET /api/leaderboard?limit=50&offset=0
func (h *PlayerHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	entries, err := h.queries.GetLeaderboard(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(entries, opts))
}

// Stats returns the global counters.
// GET /api/stats
func (h *PlayerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	g, err := h.queries.GetGlobalStats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "global stats", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
