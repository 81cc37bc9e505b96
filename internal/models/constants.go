package models

import "fmt"

// EntityType names the kind of record a mutation touches. The string values are
// the ones used on the wire and in notification strings.
type EntityType string

const (
	EntityExpense EntityType = "expense"
	EntityGroup   EntityType = "group"
	EntityUser    EntityType = "user"
)

func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityExpense, EntityGroup, EntityUser:
		return EntityType(s), nil
	default:
		return "", fmt.Errorf("unknown entity type %q", s)
	}
}

// Action is the kind of change a mutation requests.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

const (
	// MaxAttempts is the number of failed reconciliation attempts after which a
	// queued mutation is dropped.
	MaxAttempts = 3

	// DefaultDebounceMillis delays a drain after connectivity comes back.
	DefaultDebounceMillis = 1000

	// DefaultReadTimeoutMillis bounds queue reads on the drain path.
	DefaultReadTimeoutMillis = 1000
)
