package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEntry is one directed debt record: from owes to the full stake of
// the bet identified by BetID. Entries are written only by bet resolution and
// are never mutated afterwards.
type SettlementEntry struct {
	ID        string
	BetID     string
	BetCode   string
	FromID    string // debtor identity id
	ToID      string // creditor (winner) identity id
	Amount    decimal.Decimal
	Currency  Currency
	CreatedAt time.Time
}

// SettlementView adds resolved display names to a settlement entry. Name
// resolution is the read-enrichment side of resolution, performed through the
// identity registry.
type SettlementView struct {
	SettlementEntry
	FromName string
	ToName   string
}

// LeaderboardRow is one identity's aggregate standing over all settlement
// entries. It is a pure read-side rollup; no new state is involved.
type LeaderboardRow struct {
	IdentityID  string          `json:"identityId"`
	DisplayName string          `json:"displayName"`
	TotalWon    decimal.Decimal `json:"totalWon"`
	TotalLost   decimal.Decimal `json:"totalLost"`
	Net         decimal.Decimal `json:"net"`
	WinCount    int             `json:"winCount"`
	LossCount   int             `json:"lossCount"`
}
