package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The server speaks plain JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

type Expense struct {
	ID           string          `json:"id"`
	GroupID      string          `json:"group_id"`
	Title        string          `json:"title"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	PaidBy       string          `json:"paid_by,omitempty"`
	SplitBetween []string        `json:"split_between,omitempty"`
	Date         *time.Time      `json:"date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// PendingSync is filled in by list calls from the mutation queue. Never persisted.
	PendingSync bool `json:"-"`
}

// Apply copies the fields carried by p onto the expense.
func (e *Expense) Apply(p *ExpensePayload) {
	if p == nil {
		return
	}
	e.Title = p.Title
	e.Amount = p.Amount
	e.Currency = p.Currency
	e.PaidBy = p.PaidBy
	e.SplitBetween = append([]string(nil), p.SplitBetween...)
	e.Notes = p.Notes
	if p.Date != nil && !p.Date.IsZero() {
		d := *p.Date
		e.Date = &d
	}
	if p.GroupID != "" {
		e.GroupID = p.GroupID
	}
}
