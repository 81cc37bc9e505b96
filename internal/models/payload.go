package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is the change carried by a queued mutation. Each entity type has its
// own concrete shape so replaying a mutation never needs an unchecked cast.
type Payload interface {
	EntityType() EntityType
}

type ExpensePayload struct {
	GroupID      string          `json:"group_id"`
	Title        string          `json:"title"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	PaidBy       string          `json:"paid_by,omitempty"`
	SplitBetween []string        `json:"split_between,omitempty"`
	Date         *time.Time      `json:"date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

func (*ExpensePayload) EntityType() EntityType { return EntityExpense }

type GroupPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Members     []string `json:"members,omitempty"`
}

func (*GroupPayload) EntityType() EntityType { return EntityGroup }

type UserPayload struct {
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	DefaultCurrency string `json:"default_currency,omitempty"`
}

func (*UserPayload) EntityType() EntityType { return EntityUser }

var ErrPayloadMismatch = errors.New("payload does not match entity type")

// EncodePayload serializes p. A nil payload encodes to nil.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the concrete payload for entityType from raw JSON.
// Empty input yields a nil payload.
func DecodePayload(entityType EntityType, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var p Payload
	switch entityType {
	case EntityExpense:
		p = &ExpensePayload{}
	case EntityGroup:
		p = &GroupPayload{}
	case EntityUser:
		p = &UserPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unknown entity type %q", entityType)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", entityType, err)
	}
	return p, nil
}
