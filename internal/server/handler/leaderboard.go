package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sidestake/sidestake/internal/domain"
)

// LeaderboardService defines the methods that the leaderboard handler
// requires from the service layer.
type LeaderboardService interface {
	Leaderboard(ctx context.Context) ([]domain.LeaderboardRow, error)
}

// LeaderboardHandler serves the settlement rollup endpoint.
type LeaderboardHandler struct {
	board  LeaderboardService
	logger *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler with the given service and logger.
func NewLeaderboardHandler(board LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		board:  board,
		logger: logger,
	}
}

// leaderboardResponse wraps the leaderboard rows.
type leaderboardResponse struct {
	Rows []domain.LeaderboardRow `json:"rows"`
}

// Leaderboard returns per-identity settlement totals ordered by net outcome.
// GET /api/leaderboard
func (h *LeaderboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.board.Leaderboard(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if rows == nil {
		rows = []domain.LeaderboardRow{}
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{Rows: rows})
}
