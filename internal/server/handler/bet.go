package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/betting"
	"github.com/sidestake/sidestake/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	CreateBet(ctx context.Context, terms betting.CreateTerms) (string, error)
	GetBet(ctx context.Context, code string) (domain.BetDetail, []domain.SettlementView, error)
	Respond(ctx context.Context, code, token, displayName string, decision domain.Decision) (domain.BetDetail, error)
	SetLock(ctx context.Context, code, token string, locked bool) (domain.BetDetail, error)
	Resolve(ctx context.Context, code, token, winnerID string) (domain.BetDetail, []domain.SettlementView, error)
}

// BetHandler serves the bet lifecycle HTTP endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

type participantPayload struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Decision    string `json:"decision"`
	IsCreator   bool   `json:"isCreator"`
}

type settlementPayload struct {
	FromID   string `json:"fromId"`
	FromName string `json:"fromName"`
	ToID     string `json:"toId"`
	ToName   string `json:"toName"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type betPayload struct {
	Code         string               `json:"code"`
	Title        string               `json:"title"`
	Description  string               `json:"description,omitempty"`
	StakeAmount  string               `json:"stakeAmount"`
	Currency     string               `json:"currency"`
	Mode         string               `json:"mode"`
	Status       string               `json:"status"`
	CreatorID    string               `json:"creatorId"`
	WinnerID     *string              `json:"winnerId,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	ResolvedAt   *time.Time           `json:"resolvedAt,omitempty"`
	Participants []participantPayload `json:"participants"`
	Settlements  []settlementPayload  `json:"settlements,omitempty"`
}

func toBetPayload(detail domain.BetDetail, views []domain.SettlementView) betPayload {
	p := betPayload{
		Code:         detail.Code,
		Title:        detail.Title,
		Description:  detail.Description,
		StakeAmount:  detail.Stake.StringFixed(2),
		Currency:     string(detail.Currency),
		Mode:         string(detail.Mode),
		Status:       string(detail.Status),
		CreatorID:    detail.CreatorID,
		WinnerID:     detail.WinnerID,
		CreatedAt:    detail.CreatedAt,
		ResolvedAt:   detail.ResolvedAt,
		Participants: make([]participantPayload, 0, len(detail.Participants)),
	}
	for _, pt := range detail.Participants {
		p.Participants = append(p.Participants, participantPayload{
			IdentityID:  pt.IdentityID,
			DisplayName: pt.DisplayName,
			Decision:    string(pt.Decision),
			IsCreator:   pt.IsCreator,
		})
	}
	for _, v := range views {
		p.Settlements = append(p.Settlements, settlementPayload{
			FromID:   v.FromID,
			FromName: v.FromName,
			ToID:     v.ToID,
			ToName:   v.ToName,
			Amount:   v.Amount.StringFixed(2),
			Currency: string(v.Currency),
		})
	}
	return p
}

type createBetRequest struct {
	Token       string      `json:"token"`
	DisplayName string      `json:"displayName"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	StakeAmount json.Number `json:"stakeAmount"`
	Currency    string      `json:"currency"`
	Mode        string      `json:"mode"`
}

// CreateBet records a new bet and returns its share code.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var req createBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	stake, err := decimal.NewFromString(req.StakeAmount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "stakeAmount must be a number")
		return
	}

	code, err := h.bets.CreateBet(r.Context(), betting.CreateTerms{
		Token:       req.Token,
		DisplayName: req.DisplayName,
		Title:       req.Title,
		Description: req.Description,
		Stake:       stake,
		Currency:    domain.Currency(req.Currency),
		Mode:        domain.BetMode(req.Mode),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

// GetBet returns the bet with participations, and settlement entries once it
// is resolved.
// GET /api/bets/{code}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	code := pathParam(r, "code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing bet code")
		return
	}

	detail, views, err := h.bets.GetBet(r.Context(), code)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toBetPayload(detail, views))
}

type respondRequest struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
	Decision    string `json:"decision"`
}

// Respond records an identity's decision on an open bet.
// POST /api/bets/{code}/respond
func (h *BetHandler) Respond(w http.ResponseWriter, r *http.Request) {
	code := pathParam(r, "code")
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	detail, err := h.bets.Respond(r.Context(), code, req.Token, req.DisplayName, domain.Decision(req.Decision))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toBetPayload(detail, nil))
}

type lockRequest struct {
	Token  string `json:"token"`
	Locked bool   `json:"locked"`
}

// SetLock locks or reopens a bet. Creator only.
// POST /api/bets/{code}/lock
func (h *BetHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	code := pathParam(r, "code")
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	detail, err := h.bets.SetLock(r.Context(), code, req.Token, req.Locked)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toBetPayload(detail, nil))
}

type resolveRequest struct {
	Token    string `json:"token"`
	WinnerID string `json:"winnerId"`
}

// Resolve declares the winner and returns the bet with its settlement
// entries. Creator only.
// POST /api/bets/{code}/resolve
func (h *BetHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	code := pathParam(r, "code")
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	detail, views, err := h.bets.Resolve(r.Context(), code, req.Token, req.WinnerID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toBetPayload(detail, views))
}
