// Package webhook authenticates inbound payment notifications, parses them into typed
// events and hands them to the reconciler.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-billing/internal/billing"
	"github.com/Proton-105/himera-billing/internal/domain"
)

// Payment event types. The legacy names are still sent by older forwarders.
const (
	TypeCardTransfer    = "card_transfer"
	TypeBalanceTransfer = "balance_transfer"

	legacyTypeCard    = "TRANSFERMOVIL_PAGO"
	legacyTypeBalance = "CUBACEL_SALDO_RECIBIDO"
)

// InvoiceStatusPaid is the only invoice status that is matched.
const InvoiceStatusPaid = "paid"

var (
	// ErrMalformedPayload wraps every decoding and validation failure.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownType is returned for an envelope type no rail handles.
	ErrUnknownType = errors.New("unknown event type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is one parsed payment notification.
type Event interface {
	Rail() domain.Rail
	Notification() billing.Notification
}

// envelope is the body posted to the payments endpoint.
type envelope struct {
	Type       string          `json:"type" validate:"required"`
	Data       json.RawMessage `json:"data" validate:"required"`
	CardNumber string          `json:"card_number"`
}

// CardEvent reports a card-to-card transfer.
type CardEvent struct {
	OriginPhone     string          `json:"origin_phone" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	DestinationCard string          `json:"destination_card" validate:"required"`
	TransID         string          `json:"trans_id" validate:"required,max=128"`
}

// Rail returns the card rail.
func (CardEvent) Rail() domain.Rail { return domain.RailCard }

// Notification matches on origin phone, destination card and amount.
func (e CardEvent) Notification() billing.Notification {
	return billing.Notification{
		Query: domain.MatchQuery{
			Rail:            domain.RailCard,
			OriginPhone:     e.OriginPhone,
			DestinationCard: e.DestinationCard,
			Amount:          decimal.NewNullDecimal(e.Amount),
		},
		TransID: e.TransID,
	}
}

// BalanceEvent reports a mobile balance transfer.
type BalanceEvent struct {
	OriginPhone string          `json:"origin_phone" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	TransID     string          `json:"trans_id" validate:"max=128"`
}

// Rail returns the mobile balance rail.
func (BalanceEvent) Rail() domain.Rail { return domain.RailMobileBalance }

// Notification matches on origin phone and amount.
func (e BalanceEvent) Notification() billing.Notification {
	return billing.Notification{
		Query: domain.MatchQuery{
			Rail:        domain.RailMobileBalance,
			OriginPhone: e.OriginPhone,
			Amount:      decimal.NewNullDecimal(e.Amount),
		},
		TransID: e.TransID,
	}
}

// InvoiceEvent reports a crypto invoice status change.
type InvoiceEvent struct {
	InvoiceID string `json:"invoice_id" validate:"required,max=128"`
	Status    string `json:"status" validate:"required"`
}

// Rail returns the crypto rail.
func (InvoiceEvent) Rail() domain.Rail { return domain.RailCrypto }

// Paid reports whether the invoice should be matched. The status is compared exactly.
func (e InvoiceEvent) Paid() bool {
	return e.Status == InvoiceStatusPaid
}

// Notification matches on the invoice id, which also serves as the transaction id.
func (e InvoiceEvent) Notification() billing.Notification {
	return billing.Notification{
		Query:   domain.MatchQuery{Rail: domain.RailCrypto, InvoiceID: e.InvoiceID},
		TransID: e.InvoiceID,
	}
}

// ParsePayment decodes a card or balance notification. A balance event without a
// transaction id gets a synthesized one.
func ParsePayment(body []byte) (Event, error) {
	var env envelope
	if err := decode(body, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeCardTransfer, legacyTypeCard:
		var ev CardEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if ev.DestinationCard == "" {
			ev.DestinationCard = env.CardNumber
		}
		if err := check(ev, ev.Amount); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeBalanceTransfer, legacyTypeBalance:
		var ev BalanceEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := check(ev, ev.Amount); err != nil {
			return nil, err
		}
		if ev.TransID == "" {
			ev.TransID = billing.SynthesizedTransIDPrefix + uuid.NewString()
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ParseInvoice decodes a crypto invoice notification.
func ParseInvoice(body []byte) (InvoiceEvent, error) {
	var ev InvoiceEvent
	if err := decode(body, &ev); err != nil {
		return InvoiceEvent{}, err
	}
	return ev, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func check(v any, amount decimal.Decimal) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrMalformedPayload)
	}
	return nil
}
