// Package domain defines the core types, errors, and store interfaces for the
// sidestake wager tracker.
package domain

import "time"

// Identity maps an opaque per-device token to a display name. Tokens are
// client-generated, stable for the device lifetime, and are not cryptographic
// secrets. Identities are created on first contact and never deleted.
type Identity struct {
	ID          string
	Token       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
