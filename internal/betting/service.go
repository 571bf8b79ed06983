// Package betting implements the bet lifecycle: creation, participant
// responses, the OPEN/LOCKED/RESOLVED state machine, and settlement. All
// race-sensitive checks run inside storage transactions supplied by a
// domain.TxRunner so that concurrent callers on independent processes
// serialize per bet.
package betting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/domain"
	"github.com/sidestake/sidestake/internal/metrics"
	"github.com/sidestake/sidestake/internal/notify"
)

// Service exposes the bet lifecycle operations to the transport layer.
type Service struct {
	tx          domain.TxRunner
	stores      domain.Stores // pool-bound, for plain reads
	leaderboard domain.LeaderboardStore
	cache       domain.LeaderboardCache
	bus         domain.EventBus
	notifier    *notify.Notifier
	logger      *slog.Logger

	clock   func() time.Time
	newID   func() string
	newCode func(length int) string
}

// NewService creates a Service. The stores must be bound to the shared pool;
// transactional variants are obtained through tx.
func NewService(tx domain.TxRunner, stores domain.Stores, leaderboard domain.LeaderboardStore, logger *slog.Logger) *Service {
	return &Service{
		tx:          tx,
		stores:      stores,
		leaderboard: leaderboard,
		logger:      logger.With(slog.String("component", "betting")),
		clock:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		newCode:     newCode,
	}
}

// WithCache attaches a leaderboard cache. Without one, every leaderboard read
// hits storage.
func (s *Service) WithCache(cache domain.LeaderboardCache) *Service {
	s.cache = cache
	return s
}

// WithBus attaches an event bus; bet mutations are then published to the
// bet:{code} channel for live subscribers.
func (s *Service) WithBus(bus domain.EventBus) *Service {
	s.bus = bus
	return s
}

// WithNotifier attaches a webhook notifier for bet_created / bet_resolved
// events.
func (s *Service) WithNotifier(n *notify.Notifier) *Service {
	s.notifier = n
	return s
}

// CreateTerms are the immutable terms of a new bet plus the creator's
// identity upsert data.
type CreateTerms struct {
	Token       string
	DisplayName string
	Title       string
	Description string
	Stake       decimal.Decimal
	Currency    domain.Currency
	Mode        domain.BetMode
}

func (t *CreateTerms) validate() error {
	t.DisplayName = strings.TrimSpace(t.DisplayName)
	t.Title = strings.TrimSpace(t.Title)

	switch {
	case t.Token == "":
		return domain.ValidationError{Field: "token", Reason: "must not be empty"}
	case t.DisplayName == "" || len(t.DisplayName) > 100:
		return domain.ValidationError{Field: "displayName", Reason: "must be 1-100 characters"}
	case t.Title == "" || len(t.Title) > 200:
		return domain.ValidationError{Field: "title", Reason: "must be 1-200 characters"}
	case len(t.Description) > 2000:
		return domain.ValidationError{Field: "description", Reason: "must be at most 2000 characters"}
	case !t.Stake.IsPositive():
		return domain.ValidationError{Field: "stakeAmount", Reason: "must be positive"}
	case t.Stake.GreaterThan(domain.MaxStake):
		return domain.ValidationError{Field: "stakeAmount", Reason: "must be at most 1000000"}
	case !t.Currency.Valid():
		return domain.ValidationError{Field: "currency", Reason: "must be EUR, USD, or GBP"}
	case !t.Mode.Valid():
		return domain.ValidationError{Field: "mode", Reason: "must be H2H or MULTI"}
	}
	return nil
}

// UpsertIdentity registers or renames the identity behind token. Idempotent
// under repeated identical calls.
func (s *Service) UpsertIdentity(ctx context.Context, token, displayName string) (domain.Identity, error) {
	displayName = strings.TrimSpace(displayName)
	if token == "" {
		return domain.Identity{}, domain.ValidationError{Field: "token", Reason: "must not be empty"}
	}
	if displayName == "" || len(displayName) > 100 {
		return domain.Identity{}, domain.ValidationError{Field: "displayName", Reason: "must be 1-100 characters"}
	}
	return s.stores.Identities.Upsert(ctx, token, displayName)
}

// CreateBet records a new bet with the given terms and returns its share
// code. The creator's identity is upserted and automatically enrolled with
// decision ACCEPTED in the same transaction as the bet row. Code collisions,
// whether seen on the pre-check or as an insert losing a race, retry with a
// longer code up to a bounded attempt count.
func (s *Service) CreateBet(ctx context.Context, terms CreateTerms) (string, error) {
	if err := terms.validate(); err != nil {
		return "", err
	}

	now := s.clock()
	var code string

	// Each attempt is its own transaction: a unique-violation on the code
	// aborts the transaction it happened in, so a retry cannot reuse it.
	for attempt := 0; attempt < codeAttempts && code == ""; attempt++ {
		candidate := s.newCode(codeLength + attempt)

		err := s.tx.Within(ctx, func(ctx context.Context, st domain.Stores) error {
			creator, err := st.Identities.Upsert(ctx, terms.Token, terms.DisplayName)
			if err != nil {
				return err
			}

			if _, err := st.Bets.GetByCode(ctx, candidate); err == nil {
				return domain.ErrAlreadyExists
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}

			bet := domain.Bet{
				ID:           s.newID(),
				Code:         candidate,
				Title:        terms.Title,
				Description:  terms.Description,
				Stake:        terms.Stake,
				Currency:     terms.Currency,
				Mode:         terms.Mode,
				Status:       domain.StatusOpen,
				CreatorID:    creator.ID,
				CreatorToken: terms.Token,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := st.Bets.Create(ctx, bet); err != nil {
				return err
			}

			return st.Participations.Create(ctx, domain.Participation{
				ID:         s.newID(),
				BetID:      bet.ID,
				IdentityID: creator.ID,
				Decision:   domain.DecisionAccepted,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		})
		switch {
		case err == nil:
			code = candidate
		case errors.Is(err, domain.ErrAlreadyExists):
			continue // taken, or lost an insert race; grow the code and retry
		default:
			return "", err
		}
	}
	if code == "" {
		return "", fmt.Errorf("betting: share code space exhausted after %d attempts", codeAttempts)
	}

	metrics.BetsCreated.WithLabelValues(string(terms.Mode)).Inc()
	s.logger.InfoContext(ctx, "bet created",
		slog.String("code", code),
		slog.String("mode", string(terms.Mode)),
		slog.String("stake", terms.Stake.String()),
	)
	s.notify(ctx, "bet_created", "New bet",
		fmt.Sprintf("%s (%s %s %s), code %s", terms.Title, terms.Stake, terms.Currency, terms.Mode, code))

	return code, nil
}

// GetBet returns the bet with all participations and their display names.
// For a resolved bet the recorded settlement entries are included.
func (s *Service) GetBet(ctx context.Context, code string) (domain.BetDetail, []domain.SettlementView, error) {
	bet, err := s.stores.Bets.GetByCode(ctx, code)
	if err != nil {
		return domain.BetDetail{}, nil, err
	}
	detail, err := s.loadDetail(ctx, s.stores, bet)
	if err != nil {
		return domain.BetDetail{}, nil, err
	}
	if bet.Status != domain.StatusResolved {
		return detail, nil, nil
	}
	entries, err := s.stores.Settlements.ListByBet(ctx, bet.ID)
	if err != nil {
		return domain.BetDetail{}, nil, err
	}
	return detail, s.enrichSettlement(detail, entries), nil
}

// Respond applies one identity's decision to an OPEN bet. Preconditions are
// checked in order (not found, not open, then the head-to-head challenger
// rule), and the challenger check and the participation write happen under
// the bet's row lock, so two simultaneous accepts cannot both win.
func (s *Service) Respond(ctx context.Context, code, token, displayName string, decision domain.Decision) (domain.BetDetail, error) {
	displayName = strings.TrimSpace(displayName)
	switch {
	case token == "":
		return domain.BetDetail{}, domain.ValidationError{Field: "token", Reason: "must not be empty"}
	case displayName == "" || len(displayName) > 100:
		return domain.BetDetail{}, domain.ValidationError{Field: "displayName", Reason: "must be 1-100 characters"}
	case decision != domain.DecisionAccepted && decision != domain.DecisionDeclined:
		return domain.BetDetail{}, domain.ValidationError{Field: "decision", Reason: "must be ACCEPTED or DECLINED"}
	}

	var detail domain.BetDetail
	err := s.tx.WithinBet(ctx, code, func(ctx context.Context, st domain.Stores) error {
		bet, err := st.Bets.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if bet.Status != domain.StatusOpen {
			return domain.ErrBetNotOpen
		}

		ident, err := st.Identities.Upsert(ctx, token, displayName)
		if err != nil {
			return err
		}

		if bet.Mode == domain.ModeH2H && decision == domain.DecisionAccepted {
			parts, err := st.Participations.ListByBet(ctx, bet.ID)
			if err != nil {
				return err
			}
			for _, p := range parts {
				// The creator never occupies the challenger slot, and an
				// existing challenger may re-accept their own slot.
				if p.Decision == domain.DecisionAccepted &&
					p.IdentityID != bet.CreatorID &&
					p.IdentityID != ident.ID {
					return domain.ErrChallengerSlotTaken
				}
			}
		}

		existing, err := st.Participations.GetForIdentity(ctx, bet.ID, ident.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			err = st.Participations.Create(ctx, domain.Participation{
				ID:         s.newID(),
				BetID:      bet.ID,
				IdentityID: ident.ID,
				Decision:   decision,
				CreatedAt:  s.clock(),
				UpdatedAt:  s.clock(),
			})
		case err == nil:
			err = st.Participations.UpdateDecision(ctx, existing.ID, decision)
		}
		if err != nil {
			return err
		}

		detail, err = s.loadDetail(ctx, st, bet)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrChallengerSlotTaken) {
			metrics.ChallengerRacesLost.Inc()
		}
		return domain.BetDetail{}, err
	}

	metrics.Responses.WithLabelValues(string(decision)).Inc()
	s.publish(ctx, "bet_updated", detail.Bet)
	return detail, nil
}

// SetLock toggles the bet between OPEN and LOCKED. Creator only; forbidden
// once resolved.
func (s *Service) SetLock(ctx context.Context, code, token string, locked bool) (domain.BetDetail, error) {
	var detail domain.BetDetail
	err := s.tx.WithinBet(ctx, code, func(ctx context.Context, st domain.Stores) error {
		bet, err := st.Bets.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if !bet.IsCreatorToken(token) {
			return domain.ErrNotAuthorized
		}
		if bet.Status == domain.StatusResolved {
			return domain.ErrAlreadyResolved
		}

		status := domain.StatusOpen
		if locked {
			status = domain.StatusLocked
		}
		if err := st.Bets.UpdateStatus(ctx, bet.ID, status); err != nil {
			return err
		}
		bet.Status = status

		detail, err = s.loadDetail(ctx, st, bet)
		return err
	})
	if err != nil {
		return domain.BetDetail{}, err
	}

	s.publish(ctx, "bet_updated", detail.Bet)
	return detail, nil
}

// Resolve flips the bet to RESOLVED with the creator-chosen winner and writes
// the settlement ledger, all as one atomic unit. The winner must hold an
// ACCEPTED participation (the creator counts). Concurrent resolves: exactly
// one succeeds, the other observes ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, code, token, winnerID string) (domain.BetDetail, []domain.SettlementView, error) {
	var (
		detail  domain.BetDetail
		views   []domain.SettlementView
		entries []domain.SettlementEntry
	)

	err := s.tx.WithinBet(ctx, code, func(ctx context.Context, st domain.Stores) error {
		bet, err := st.Bets.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if !bet.IsCreatorToken(token) {
			return domain.ErrNotAuthorized
		}
		if bet.Status == domain.StatusResolved {
			return domain.ErrAlreadyResolved
		}

		parts, err := st.Participations.ListByBet(ctx, bet.ID)
		if err != nil {
			return err
		}
		winnerAccepted := false
		for _, p := range parts {
			if p.IdentityID == winnerID && p.Decision == domain.DecisionAccepted {
				winnerAccepted = true
				break
			}
		}
		if !winnerAccepted {
			return domain.ErrInvalidWinner
		}

		now := s.clock()
		entries = ComputeSettlement(bet, parts, winnerID, now, s.newID)

		if err := st.Bets.Resolve(ctx, bet.ID, winnerID, now); err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := st.Settlements.InsertBatch(ctx, entries); err != nil {
				return err
			}
		}

		bet.Status = domain.StatusResolved
		bet.WinnerID = &winnerID
		bet.ResolvedAt = &now

		detail, err = s.loadDetail(ctx, st, bet)
		if err != nil {
			return err
		}
		views = s.enrichSettlement(detail, entries)
		return nil
	})
	if err != nil {
		return domain.BetDetail{}, nil, err
	}

	metrics.Resolutions.Inc()
	metrics.SettlementEntries.Add(float64(len(entries)))
	s.logger.InfoContext(ctx, "bet resolved",
		slog.String("code", code),
		slog.String("winner_id", winnerID),
		slog.Int("settlement_entries", len(entries)),
	)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.WarnContext(ctx, "leaderboard cache invalidation failed",
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, "bet_resolved", detail.Bet)
	s.notify(ctx, "bet_resolved", "Bet resolved",
		fmt.Sprintf("%q resolved with %d settlement entries, code %s",
			detail.Bet.Title, len(entries), code))

	return detail, views, nil
}

// Leaderboard returns the aggregate rollup over all settlement entries,
// served from cache when available.
func (s *Service) Leaderboard(ctx context.Context) ([]domain.LeaderboardRow, error) {
	if s.cache != nil {
		rows, err := s.cache.Get(ctx)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "leaderboard cache read failed",
				slog.String("error", err.Error()),
			)
		}
	}

	rows, err := s.leaderboard.Rollup(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, rows); err != nil {
			s.logger.WarnContext(ctx, "leaderboard cache write failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return rows, nil
}

// loadDetail assembles a BetDetail from the given stores: participations in
// insertion order with display names resolved through the identity registry.
func (s *Service) loadDetail(ctx context.Context, st domain.Stores, bet domain.Bet) (domain.BetDetail, error) {
	parts, err := st.Participations.ListByBet(ctx, bet.ID)
	if err != nil {
		return domain.BetDetail{}, err
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.IdentityID)
	}
	idents, err := st.Identities.GetByIDs(ctx, ids)
	if err != nil {
		return domain.BetDetail{}, err
	}

	detail := domain.BetDetail{Bet: bet}
	for _, p := range parts {
		detail.Participants = append(detail.Participants, domain.BetParticipant{
			Participation: p,
			DisplayName:   idents[p.IdentityID].DisplayName,
			IsCreator:     p.IdentityID == bet.CreatorID,
		})
	}
	return detail, nil
}

// enrichSettlement resolves display names for settlement entries from the
// already-loaded participant list.
func (s *Service) enrichSettlement(detail domain.BetDetail, entries []domain.SettlementEntry) []domain.SettlementView {
	names := make(map[string]string, len(detail.Participants))
	for _, p := range detail.Participants {
		names[p.IdentityID] = p.DisplayName
	}

	views := make([]domain.SettlementView, 0, len(entries))
	for _, e := range entries {
		views = append(views, domain.SettlementView{
			SettlementEntry: e,
			FromName:        names[e.FromID],
			ToName:          names[e.ToID],
		})
	}
	return views
}

// betEvent is the payload pushed to bet:{code} subscribers. Clients refetch
// the bet on receipt; the event itself carries only the changed status.
type betEvent struct {
	Type   string           `json:"type"`
	Code   string           `json:"code"`
	Status domain.BetStatus `json:"status"`
}

func (s *Service) publish(ctx context.Context, typ string, bet domain.Bet) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(betEvent{Type: typ, Code: bet.Code, Status: bet.Status})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "bet:"+bet.Code, payload); err != nil {
		s.logger.WarnContext(ctx, "publish bet event failed",
			slog.String("code", bet.Code),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	// Delivery failures are logged by the notifier itself and never fail
	// the operation.
	_ = s.notifier.Notify(ctx, event, title, message)
}
