package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"splitsync/internal/models"

	"github.com/google/uuid"
)

var ErrQueueItemNotFound = errors.New("queue item not found")

const queueColumns = `id, entity_type, entity_id, action, payload, group_id, enqueued_at, retry_count, last_error, processing`

// Enqueue persists a new pending mutation. The item is durable when Enqueue returns.
func (db *DB) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.MutationQueueItem, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mutation: %w", err)
	}
	return db.insertQueueItem(ctx, db.DB, req)
}

// ApplyLocal writes the optimistic cache change of w and queues its mutation in
// one transaction. Neither is kept when the other fails.
func (db *DB) ApplyLocal(ctx context.Context, w models.LocalWrite) (*models.MutationQueueItem, error) {
	if err := w.Mutation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mutation: %w", err)
	}

	var item *models.MutationQueueItem
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyCacheWrite(ctx, tx, w); err != nil {
			return err
		}
		var err error
		item, err = db.insertQueueItem(ctx, tx, w.Mutation)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (db *DB) insertQueueItem(ctx context.Context, ex execer, req models.EnqueueRequest) (*models.MutationQueueItem, error) {
	payload, err := models.EncodePayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	item := &models.MutationQueueItem{
		ID:         uuid.NewString(),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Action:     req.Action,
		Payload:    req.Payload,
		GroupID:    req.GroupID,
		EnqueuedAt: db.nextEnqueueTime(),
	}

	query := `INSERT INTO mutation_queue (id, entity_type, entity_id, action, payload, group_id, enqueued_at, retry_count, last_error, processing)
              VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, 0)`
	_, err = ex.ExecContext(ctx, query,
		item.ID,
		string(item.EntityType),
		item.EntityID,
		string(item.Action),
		nullableBytes(payload),
		nullableString(item.GroupID),
		item.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	return item, nil
}

// nextEnqueueTime returns a timestamp strictly after every earlier enqueue on this store.
func (db *DB) nextEnqueueTime() time.Time {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.clock()
	if !now.After(db.lastEnqueued) {
		now = db.lastEnqueued.Add(time.Nanosecond)
	}
	db.lastEnqueued = now
	return now
}

// DequeueUnprocessed returns every item not owned by an in-flight attempt, oldest first.
func (db *DB) DequeueUnprocessed(ctx context.Context) ([]*models.MutationQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM mutation_queue
              WHERE processing = 0
              ORDER BY enqueued_at ASC, rowid ASC`
	return db.queryQueue(ctx, query)
}

// ListQueue returns every queued item regardless of its processing flag, oldest first.
func (db *DB) ListQueue(ctx context.Context) ([]*models.MutationQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM mutation_queue ORDER BY enqueued_at ASC, rowid ASC`
	return db.queryQueue(ctx, query)
}

func (db *DB) GetQueueItem(ctx context.Context, id string) (*models.MutationQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM mutation_queue WHERE id = ?`
	items, err := db.queryQueue(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrQueueItemNotFound
	}
	return items[0], nil
}

func (db *DB) MarkProcessing(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE mutation_queue SET processing = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark item processing: %w", err)
	}
	return nil
}

// ReleaseProcessing hands an item back to the next drain without counting a failure.
func (db *DB) ReleaseProcessing(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE mutation_queue SET processing = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release item: %w", err)
	}
	return nil
}

// RecordFailure counts a failed attempt. The item is deleted on the attempt that
// reaches models.MaxAttempts and dropped is reported true; otherwise it becomes
// eligible for the next drain.
func (db *DB) RecordFailure(ctx context.Context, id, errMsg string) (dropped bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var retryCount int
		row := tx.QueryRowContext(ctx, `SELECT retry_count FROM mutation_queue WHERE id = ?`, id)
		if scanErr := row.Scan(&retryCount); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to load queue item: %w", scanErr)
		}

		if retryCount+1 >= models.MaxAttempts {
			if _, execErr := tx.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); execErr != nil {
				return fmt.Errorf("failed to drop queue item: %w", execErr)
			}
			dropped = true
			return nil
		}

		query := `UPDATE mutation_queue SET retry_count = retry_count + 1, last_error = ?, processing = 0 WHERE id = ?`
		if _, execErr := tx.ExecContext(ctx, query, errMsg, id); execErr != nil {
			return fmt.Errorf("failed to record failure: %w", execErr)
		}
		return nil
	})
	return dropped, err
}

func (db *DB) Remove(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}
	return nil
}

// RemoveMatching deletes every item for a server-confirmed triple that was
// enqueued at or before notAfter. Later items carry newer edits and stay queued.
func (db *DB) RemoveMatching(ctx context.Context, key models.MutationKey, notAfter time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM mutation_queue WHERE entity_type = ? AND entity_id = ? AND action = ? AND enqueued_at <= ?`,
		string(key.EntityType), key.EntityID, string(key.Action), notAfter.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove confirmed items: %w", err)
	}
	return result.RowsAffected()
}

// ClearAllProcessingFlags releases every item. Called at startup, when no attempt
// can still be running, to recover from a crash mid-drain.
func (db *DB) ClearAllProcessingFlags(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE mutation_queue SET processing = 0 WHERE processing = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear processing flags: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) CountUnprocessed(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue WHERE processing = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}

// PendingEntityIDs returns the ids of entities of the given type that still have queued changes.
func (db *DB) PendingEntityIDs(ctx context.Context, entityType models.EntityType) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM mutation_queue WHERE entity_type = ?`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entities: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending entity: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (db *DB) queryQueue(ctx context.Context, query string, args ...interface{}) ([]*models.MutationQueueItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation queue: %w", err)
	}
	defer rows.Close()

	var items []*models.MutationQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mutation queue: %w", err)
	}
	return items, nil
}

func scanQueueItem(rows *sql.Rows) (*models.MutationQueueItem, error) {
	var (
		item       models.MutationQueueItem
		entityType string
		action     string
		payload    sql.NullString
		groupID    sql.NullString
		enqueuedAt int64
		lastError  sql.NullString
		processing bool
	)
	err := rows.Scan(&item.ID, &entityType, &item.EntityID, &action, &payload, &groupID, &enqueuedAt, &item.RetryCount, &lastError, &processing)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.EntityType = models.EntityType(entityType)
	item.Action = models.Action(action)
	item.GroupID = groupID.String
	item.EnqueuedAt = time.Unix(0, enqueuedAt)
	item.Processing = processing
	if lastError.Valid {
		msg := lastError.String
		item.LastError = &msg
	}

	if payload.Valid {
		p, err := models.DecodePayload(item.EntityType, []byte(payload.String))
		if err != nil {
			return nil, fmt.Errorf("queue item %s: %w", item.ID, err)
		}
		item.Payload = p
	}
	return &item, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
