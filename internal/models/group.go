package models

import "time"

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Members     []string  `json:"members,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	PendingSync bool `json:"-"`
}

func (g *Group) Apply(p *GroupPayload) {
	if p == nil {
		return
	}
	g.Name = p.Name
	g.Description = p.Description
	g.Currency = p.Currency
	g.Members = append([]string(nil), p.Members...)
}
