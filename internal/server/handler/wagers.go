package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/server/middleware"
	"github.com/alanyoungcy/wagerbot/internal/service"
)

// WagerCommands is the state-changing side of the wager service.
type WagerCommands interface {
	CreateWager(ctx context.Context, call domain.Call, p service.CreateWagerParams) (domain.Wager, error)
	AcceptWager(ctx context.Context, call domain.Call, id, stance string) (domain.Wager, error)
	SubmitVerification(ctx context.Context, call domain.Call, id, evidenceURL string) (domain.VerificationResult, error)
	SubmitAppeal(ctx context.Context, call domain.Call, id, reason, evidenceURL string) (domain.VerificationResult, error)
	ResolveWager(ctx context.Context, call domain.Call, id string) (service.Resolution, error)
}

// WagerQueries is the read side used by the wager endpoints.
type WagerQueries interface {
	GetWager(ctx context.Context, id string) (domain.Wager, error)
	GetStatus(ctx context.Context, id string) (domain.WagerStatusView, error)
	ListWagers(ctx context.Context, opts domain.ListOpts) ([]domain.Wager, error)
	LastWagerID(ctx context.Context) (string, error)
	ListPayouts(ctx context.Context, wagerID string) ([]domain.Payout, error)
}

// WagerHandler serves /api/wagers.
type WagerHandler struct {
	commands WagerCommands
	queries  WagerQueries
	logger   *slog.Logger
}

// NewWagerHandler creates a WagerHandler.
func NewWagerHandler(commands WagerCommands, queries WagerQueries, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{commands: commands, queries: queries, logger: logger.With(slog.String("handler", "wagers"))}
}

type createWagerRequest struct {
	Prediction  string    `json:"prediction" validate:"required,max=1000"`
	StakeAmount int64     `json:"stake_amount" validate:"gte=0"`
	Deadline    time.Time `json:"deadline" validate:"required"`
	Category    string    `json:"category" validate:"max=64"`
	Criteria    string    `json:"criteria" validate:"required,max=2000"`
}

type acceptWagerRequest struct {
	Stance string `json:"stance" validate:"max=16"`
}

type verifyRequest struct {
	EvidenceURL string `json:"evidence_url" validate:"omitempty,url,max=2048"`
}

type appealRequest struct {
	Reason      string `json:"reason" validate:"max=1000"`
	EvidenceURL string `json:"evidence_url" validate:"omitempty,url,max=2048"`
}

// Create opens a wager as the caller.
// POST /api/wagers
func (h *WagerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create wager", err)
		return
	}
	wager, err := h.commands.CreateWager(r.Context(), middleware.CallFrom(r.Context()), service.CreateWagerParams{
		Prediction:  req.Prediction,
		StakeAmount: req.StakeAmount,
		Deadline:    req.Deadline,
		Category:    req.Category,
		Criteria:    req.Criteria,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create wager", err)
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

// Accept joins a waiting wager.
// POST /api/wagers/{id}/accept
func (h *WagerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "accept wager", err)
		return
	}
	wager, err := h.commands.AcceptWager(r.Context(), middleware.CallFrom(r.Context()), r.PathValue("id"), req.Stance)
	if err != nil {
		writeServiceError(w, r, h.logger, "accept wager", err)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// Verify runs the verification tier.
// POST /api/wagers/{id}/verify
func (h *WagerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "verify wager", err)
		return
	}
	res, err := h.commands.SubmitVerification(r.Context(), middleware.CallFrom(r.Context()), r.PathValue("id"), req.EvidenceURL)
	if err != nil {
		writeServiceError(w, r, h.logger, "verify wager", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Appeal runs the appeal tier.
// POST /api/wagers/{id}/appeal
func (h *WagerHandler) Appeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "appeal wager", err)
		return
	}
	res, err := h.commands.SubmitAppeal(r.Context(), middleware.CallFrom(r.Context()), r.PathValue("id"), req.Reason, req.EvidenceURL)
	if err != nil {
		writeServiceError(w, r, h.logger, "appeal wager", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resolve settles a wager with a final verification.
// POST /api/wagers/{id}/resolve
func (h *WagerHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.commands.ResolveWager(r.Context(), middleware.CallFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve wager", err)
		return
	}
	payouts := res.Payouts
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"wager": res.Wager, "payouts": payouts})
}

// List returns wagers in creation order.
// GET /api/wagers?limit=50&offset=0
func (h *WagerHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list wagers", err)
		return
	}
	wagers, err := h.queries.ListWagers(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list wagers", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(wagers, opts))
}

// Last returns the most recently created wager id.
// GET /api/wagers/last
func (h *WagerHandler) Last(w http.ResponseWriter, r *http.Request) {
	id, err := h.queries.LastWagerID(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "last wager", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Get returns one wager.
// GET /api/wagers/{id}
func (h *WagerHandler) Get(w http.ResponseWriter, r *http.Request) {
	wager, err := h.queries.GetWager(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get wager", err)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// Status returns the compact status view.
// GET /api/wagers/{id}/status
func (h *WagerHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "wager status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Payouts lists the payout records of a resolved wager.
// GET /api/wagers/{id}/payouts
func (h *WagerHandler) Payouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.queries.ListPayouts(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}
