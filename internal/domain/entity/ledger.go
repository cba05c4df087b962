package entity

import (
	"time"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// LedgerEntry is the immutable record of one accepted transition
type LedgerEntry struct {
	ID         int64                   `json:"id"`
	EntityType statemachine.EntityType `json:"entity_type"`
	EntityID   int64                   `json:"entity_id"`
	Actor      string                  `json:"actor"`
	FromState  statemachine.State      `json:"from_state"`
	ToState    statemachine.State      `json:"to_state"`
	Action     statemachine.Action     `json:"action"`
	Comment    string                  `json:"comment,omitempty"`
	Revision   int64                   `json:"revision"`
	Metadata   string                  `json:"metadata,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// LedgerFilter narrows a ledger query
type LedgerFilter struct {
	EntityType statemachine.EntityType
	EntityID   int64
	Actor      string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
