// Package lead holds the read-only lead profile the bridge personalizes agent
// conversations with. The bridge only ever reads a snapshot; writes come from
// the CRM webhook.
package lead

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no lead exists for a phone number.
var ErrNotFound = errors.New("lead not found")

// Property describes the unit the lead asked about.
type Property struct {
	Address       string `json:"address"`
	Postcode      string `json:"postcode"`
	Bedrooms      int    `json:"bedrooms"`
	AvailableFrom string `json:"available_from"`
	MonthlyRent   int    `json:"monthly_rent"`
}

// Lead is one CRM record. Completeness is computed upstream and consumed
// as-is ("complete", "partial" or "minimal"); MissingFields lists what the
// agent should still collect.
type Lead struct {
	ID             string    `json:"id"`
	Phone          string    `json:"phone"`
	Name           string    `json:"name"`
	Budget         int       `json:"budget"`
	MoveInDate     string    `json:"move_in_date"`
	Income         int       `json:"income"`
	Occupation     string    `json:"occupation"`
	ContractLength string    `json:"contract_length"`
	Completeness   string    `json:"completeness"`
	MissingFields  []string  `json:"missing_fields"`
	Property       *Property `json:"property,omitempty"`
}

// Store abstracts lead persistence so the bridge and webhook handlers do not
// care whether records live in Supabase or in memory.
type Store interface {
	Get(ctx context.Context, phone string) (*Lead, error)
	Upsert(ctx context.Context, l *Lead) error
}
