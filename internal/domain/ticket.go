package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rail is the payment channel a ticket is paid through.
type Rail string

const (
	RailCard          Rail = "card"
	RailMobileBalance Rail = "mobile_balance"
	RailCrypto        Rail = "crypto"
)

// Valid reports whether r is a known rail.
func (r Rail) Valid() bool {
	switch r {
	case RailCard, RailMobileBalance, RailCrypto:
		return true
	}
	return false
}

// TicketStatus is the lifecycle state of a payment ticket.
type TicketStatus string

const (
	StatusPending   TicketStatus = "pending"
	StatusCompleted TicketStatus = "completed"
	StatusCancelled TicketStatus = "cancelled"
)

// validTransitions lists the only permitted status moves. Terminal states have no entry.
var validTransitions = map[TicketStatus][]TicketStatus{
	StatusPending: {
		StatusCompleted,
		StatusCancelled,
	},
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to TicketStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s can no longer change.
func (s TicketStatus) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Predicates are the rail-dependent fields a notification is matched on.
type Predicates struct {
	OriginPhone     string
	DestinationCard string
	InvoiceID       string
}

// Empty reports whether no predicate is populated.
func (p Predicates) Empty() bool {
	return p.OriginPhone == "" && p.DestinationCard == "" && p.InvoiceID == ""
}

// Ticket is a durable intent to pay for a plan through a rail.
type Ticket struct {
	ID              int64
	OwnerID         int64
	PlanRequested   Plan
	Rail            Rail
	Amount          decimal.Decimal
	Currency        string
	Status          TicketStatus
	Predicates      Predicates
	CreatedAt       time.Time
	CompletedAt     *time.Time
	ExternalTransID string
}

// NewTicket describes a ticket to be inserted as pending.
type NewTicket struct {
	OwnerID    int64
	Plan       Plan
	Rail       Rail
	Amount     decimal.Decimal
	Currency   string
	Predicates Predicates
}

// MatchQuery is the conjunctive filter used to find the ticket a notification pays for.
// Empty strings and an invalid Amount are not constraints.
type MatchQuery struct {
	Rail            Rail
	OriginPhone     string
	DestinationCard string
	InvoiceID       string
	Amount          decimal.NullDecimal
}

// Constrained reports whether the query carries at least one predicate besides the rail.
func (q MatchQuery) Constrained() bool {
	return q.OriginPhone != "" || q.DestinationCard != "" || q.InvoiceID != "" || q.Amount.Valid
}
