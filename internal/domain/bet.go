package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the ISO code the stake is denominated in. No conversion is
// performed; every settlement entry carries the bet's currency verbatim.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyEUR, CurrencyUSD, CurrencyGBP:
		return true
	}
	return false
}

// BetMode selects how many challengers a bet admits.
type BetMode string

const (
	// ModeH2H permits exactly one non-creator challenger.
	ModeH2H BetMode = "H2H"
	// ModeMulti permits any number of accepters.
	ModeMulti BetMode = "MULTI"
)

// Valid reports whether m is a known bet mode.
func (m BetMode) Valid() bool {
	return m == ModeH2H || m == ModeMulti
}

// BetStatus tracks the bet lifecycle. Transitions move only forward:
// OPEN and LOCKED toggle freely under the creator's control, RESOLVED is
// terminal.
type BetStatus string

const (
	StatusOpen     BetStatus = "OPEN"
	StatusLocked   BetStatus = "LOCKED"
	StatusResolved BetStatus = "RESOLVED"
)

// MaxStake is the upper bound on a bet's stake amount.
var MaxStake = decimal.NewFromInt(1_000_000)

// Bet is a wager record: immutable terms plus a mutable status and winner.
// WinnerID is non-nil exactly when Status is RESOLVED.
type Bet struct {
	ID           string
	Code         string // short human-shareable string, unique
	Title        string
	Description  string
	Stake        decimal.Decimal
	Currency     Currency
	Mode         BetMode
	Status       BetStatus
	CreatorID    string // identity id of the creator
	CreatorToken string // compared verbatim for creator-only transitions
	WinnerID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ResolvedAt   *time.Time
}

// IsCreatorToken reports whether token authorizes creator-only transitions.
func (b Bet) IsCreatorToken(token string) bool {
	return token != "" && b.CreatorToken == token
}

// BetDetail is a bet together with its participation rows and the display
// names resolved through the identity registry.
type BetDetail struct {
	Bet
	Participants []BetParticipant
}

// BetParticipant joins one participation row with its identity.
type BetParticipant struct {
	Participation
	DisplayName string
	IsCreator   bool
}
