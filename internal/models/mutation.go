package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MutationQueueItem is a pending local change that the server has not confirmed yet.
type MutationQueueItem struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Action     Action     `json:"action"`
	Payload    Payload    `json:"payload,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
	LastError  *string    `json:"last_error,omitempty"`
	Processing bool       `json:"processing"`
}

// UnmarshalJSON restores the concrete payload type from the entity type.
func (m *MutationQueueItem) UnmarshalJSON(data []byte) error {
	type plain MutationQueueItem
	aux := struct {
		*plain
		Payload json.RawMessage `json:"payload,omitempty"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(m.EntityType, aux.Payload)
	if err != nil {
		return err
	}
	m.Payload = p
	return nil
}

// Key identifies the change independently of the queue item id.
func (m *MutationQueueItem) Key() MutationKey {
	return MutationKey{EntityType: m.EntityType, EntityID: m.EntityID, Action: m.Action}
}

func (m *MutationQueueItem) ExpensePayload() (*ExpensePayload, bool) {
	p, ok := m.Payload.(*ExpensePayload)
	return p, ok
}

func (m *MutationQueueItem) GroupPayload() (*GroupPayload, bool) {
	p, ok := m.Payload.(*GroupPayload)
	return p, ok
}

func (m *MutationQueueItem) UserPayload() (*UserPayload, bool) {
	p, ok := m.Payload.(*UserPayload)
	return p, ok
}

// MutationKey is the (entity type, entity id, action) triple the server echoes
// back in completion notifications.
type MutationKey struct {
	EntityType EntityType
	EntityID   string
	Action     Action
}

func (k MutationKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.EntityType, k.EntityID, k.Action)
}

// EnqueueRequest carries everything the caller supplies when queueing a change.
type EnqueueRequest struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Payload    Payload
	GroupID    string
}

// LocalWrite is an optimistic edit: the mutation to queue and the cache copy it
// produces. Entity is *Expense, *Group or *User, and nil for deletes.
type LocalWrite struct {
	Mutation EnqueueRequest
	Entity   interface{}
}

// Validate checks the request against the mutation rules.
func (r EnqueueRequest) Validate() error {
	if _, err := ParseEntityType(string(r.EntityType)); err != nil {
		return err
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if r.EntityID == "" {
		return errors.New("entity id is required")
	}
	if r.EntityType == EntityExpense && r.GroupID == "" {
		return errors.New("group id is required for expense mutations")
	}
	if r.Action == ActionDelete {
		if r.Payload != nil {
			return errors.New("delete mutations carry no payload")
		}
		return nil
	}
	if r.Payload == nil {
		return fmt.Errorf("%s mutation requires a payload", r.Action)
	}
	if r.Payload.EntityType() != r.EntityType {
		return fmt.Errorf("%w: %s payload for %s", ErrPayloadMismatch, r.Payload.EntityType(), r.EntityType)
	}
	return nil
}
