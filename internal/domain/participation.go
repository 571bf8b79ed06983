package domain

import "time"

// Decision is one identity's stance on one bet.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionAccepted Decision = "ACCEPTED"
	DecisionDeclined Decision = "DECLINED"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionAccepted, DecisionDeclined:
		return true
	}
	return false
}

// Participation records one identity's decision on one bet. The (bet,
// identity) pair is unique. The creator's row exists from bet creation with
// decision ACCEPTED; other rows appear on first response and may flip between
// ACCEPTED and DECLINED while the bet is OPEN.
type Participation struct {
	ID         string
	BetID      string
	IdentityID string
	Decision   Decision
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
