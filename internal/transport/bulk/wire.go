package bulk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"splitsync/internal/models"
)

// Server message types.
const (
	typeAck       = "ack"
	typeCompleted = "completed"
	typeError     = "error"
)

var ErrUnsupportedEntity = errors.New("entity type is not carried by the bulk protocol")

// Change is one entry of the batch request.
type Change struct {
	Type      models.Action     `json:"type"`
	Entity    models.EntityType `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type request struct {
	Changes []Change `json:"changes"`
}

type serverMessage struct {
	Type          string          `json:"type"`
	OperationID   string          `json:"operation_id"`
	Status        string          `json:"status"`
	CreatedAt     json.RawMessage `json:"created_at"`
	CompletedAt   json.RawMessage `json:"completed_at"`
	Notifications []string        `json:"notifications"`
	Error         string          `json:"error"`
}

// ChangeFromItem converts a queued mutation into its wire form. Expense changes
// always carry the owning group id in data, deletes included.
func ChangeFromItem(item *models.MutationQueueItem) (Change, error) {
	change := Change{
		Type:      item.Action,
		Entity:    item.EntityType,
		EntityID:  item.EntityID,
		Timestamp: item.EnqueuedAt,
	}

	switch item.EntityType {
	case models.EntityExpense:
		payload := &models.ExpensePayload{}
		if p, ok := item.ExpensePayload(); ok {
			copied := *p
			payload = &copied
		}
		if payload.GroupID == "" {
			payload.GroupID = item.GroupID
		}
		if item.Action == models.ActionDelete {
			data, err := json.Marshal(map[string]string{"group_id": payload.GroupID})
			if err != nil {
				return Change{}, err
			}
			change.Data = data
			return change, nil
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return Change{}, fmt.Errorf("encode expense change: %w", err)
		}
		change.Data = data
	case models.EntityGroup:
		data, err := models.EncodePayload(item.Payload)
		if err != nil {
			return Change{}, fmt.Errorf("encode group change: %w", err)
		}
		change.Data = data
	default:
		return Change{}, fmt.Errorf("%w: %s", ErrUnsupportedEntity, item.EntityType)
	}
	return change, nil
}

// ParseNotification decodes an "entity:entityId:action" completion string.
func ParseNotification(s string) (models.MutationKey, error) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first <= 0 || last == first || last == len(s)-1 {
		return models.MutationKey{}, fmt.Errorf("malformed notification %q", s)
	}

	entityType, err := models.ParseEntityType(s[:first])
	if err != nil {
		return models.MutationKey{}, fmt.Errorf("notification %q: %w", s, err)
	}
	action, err := models.ParseAction(s[last+1:])
	if err != nil {
		return models.MutationKey{}, fmt.Errorf("notification %q: %w", s, err)
	}
	id := s[first+1 : last]
	if id == "" {
		return models.MutationKey{}, fmt.Errorf("malformed notification %q", s)
	}
	return models.MutationKey{EntityType: entityType, EntityID: id, Action: action}, nil
}

// rawText renders a JSON scalar as text, unquoting strings.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
