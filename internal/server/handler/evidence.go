package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// EvidenceLoader returns an archived evidence snapshot by digest.
type EvidenceLoader interface {
	LoadEvidence(ctx context.Context, digest string) (string, error)
}

// EvidenceHandler serves archived evidence so a verdict's digest can be
// checked against the text the oracle saw.
type EvidenceHandler struct {
	store  EvidenceLoader
	logger *slog.Logger
}

func NewEvidenceHandler(store EvidenceLoader, logger *slog.Logger) *EvidenceHandler {
	return &EvidenceHandler{store: store, logger: logger.With(slog.String("handler", "evidence"))}
}

// Get returns the snapshot as plain text.
// GET /api/evidence/{digest}
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	text, err := h.store.LoadEvidence(r.Context(), r.PathValue("digest"))
	if err != nil {
		writeServiceError(w, r, h.logger, "load evidence", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}
