package domain

import (
	"context"
	"errors"
	"time"

	"splitsync/internal/models"
)

// MutationQueue is the durable list of local changes not yet confirmed by the server.
type MutationQueue interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.MutationQueueItem, error)
	// ApplyLocal stores the cache side of w and queues its mutation atomically.
	ApplyLocal(ctx context.Context, w models.LocalWrite) (*models.MutationQueueItem, error)
	DequeueUnprocessed(ctx context.Context) ([]*models.MutationQueueItem, error)
	MarkProcessing(ctx context.Context, id string) error
	ReleaseProcessing(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, errMsg string) (dropped bool, err error)
	Remove(ctx context.Context, id string) error
	RemoveMatching(ctx context.Context, key models.MutationKey, notAfter time.Time) (int64, error)
	ClearAllProcessingFlags(ctx context.Context) (int64, error)
	CountUnprocessed(ctx context.Context) (int, error)
	PendingEntityIDs(ctx context.Context, entityType models.EntityType) (map[string]bool, error)
}

// EntityCache is the client's best-known copy of every expense, group and profile.
type EntityCache interface {
	PutExpense(ctx context.Context, expense *models.Expense) error
	GetExpense(ctx context.Context, id string) (*models.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)
	ReplaceExpense(ctx context.Context, localID string, expense *models.Expense) error
	ReplaceGroupExpenses(ctx context.Context, groupID string, expenses []*models.Expense, keep map[string]bool) error

	PutGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context) ([]*models.Group, error)
	ReplaceGroup(ctx context.Context, localID string, group *models.Group) error

	PutUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// ErrNotFound is returned by an EntityTransport when the server has no such entity.
var ErrNotFound = errors.New("not found")

// EntityTransport is the per-item request/response API of the server.
// Every successful write returns the server's canonical copy.
type EntityTransport interface {
	CreateExpense(ctx context.Context, groupID, clientID string, payload *models.ExpensePayload) (*models.Expense, error)
	UpdateExpense(ctx context.Context, groupID, id string, payload *models.ExpensePayload) (*models.Expense, error)
	DeleteExpense(ctx context.Context, groupID, id string) error
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)

	CreateGroup(ctx context.Context, clientID string, payload *models.GroupPayload) (*models.Group, error)
	UpdateGroup(ctx context.Context, id string, payload *models.GroupPayload) (*models.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context) ([]*models.Group, error)

	UpdateProfile(ctx context.Context, payload *models.UserPayload) (*models.User, error)
}

// ListCache is implemented by entity transports that keep list responses.
// Callers that need the server's current lists drop the cached copies first.
type ListCache interface {
	InvalidateLists(ctx context.Context, groupIDs ...string)
}

// TokenSource hands out the current credentials. Implementations must read the
// backing store on every call; callers never cache the result.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// Connectivity reports network and server reachability.
type Connectivity interface {
	IsOnline() bool
	IsBackendReachable() bool
	IsFullyOnline() bool
	Subscribe(fn func(fullyOnline bool)) (unsubscribe func())
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncTrigger asks the orchestrator for a drain. It never blocks.
type SyncTrigger interface {
	TriggerSync(reason string)
}

// DeadLetter is a mutation that was dropped after exhausting its attempts.
type DeadLetter struct {
	Item      models.MutationQueueItem `json:"item"`
	Reason    string                   `json:"reason"`
	DroppedAt time.Time                `json:"dropped_at"`
}

type DeadLetterRepository interface {
	Push(ctx context.Context, letter *DeadLetter) error
	List(ctx context.Context, limit int) ([]*DeadLetter, error)
	Count(ctx context.Context) (int64, error)
}
