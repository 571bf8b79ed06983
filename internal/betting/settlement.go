package betting

import (
	"time"

	"github.com/sidestake/sidestake/internal/domain"
)

// ComputeSettlement produces the debt ledger for a resolved bet: one entry
// per ACCEPTED participation other than the winner's, each owing the full
// stake to the winner. The model is flat and non-netting: no splitting, no
// offsetting across bets. The result is empty (not an error) when the winner
// was the only accepter.
//
// The function is pure apart from the injected id generator; the transactional
// shell around resolution persists its output.
func ComputeSettlement(bet domain.Bet, parts []domain.Participation, winnerID string, now time.Time, newID func() string) []domain.SettlementEntry {
	var entries []domain.SettlementEntry
	for _, p := range parts {
		if p.Decision != domain.DecisionAccepted || p.IdentityID == winnerID {
			continue
		}
		entries = append(entries, domain.SettlementEntry{
			ID:        newID(),
			BetID:     bet.ID,
			BetCode:   bet.Code,
			FromID:    p.IdentityID,
			ToID:      winnerID,
			Amount:    bet.Stake,
			Currency:  bet.Currency,
			CreatedAt: now,
		})
	}
	return entries
}
