package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"splitsync/internal/models"
)

var ErrEntityNotFound = errors.New("entity not found")

func (db *DB) PutExpense(ctx context.Context, expense *models.Expense) error {
	if expense == nil || expense.ID == "" {
		return errors.New("expense id is required")
	}
	return putEntity(ctx, db.DB, models.EntityExpense, expense.ID, expense.GroupID, expense)
}

func (db *DB) GetExpense(ctx context.Context, id string) (*models.Expense, error) {
	var expense models.Expense
	if err := db.getEntity(ctx, models.EntityExpense, id, &expense); err != nil {
		return nil, err
	}
	return &expense, nil
}

func (db *DB) DeleteExpense(ctx context.Context, id string) error {
	return db.deleteEntity(ctx, models.EntityExpense, id)
}

// ListExpenses returns the cached expenses of a group, newest first.
func (db *DB) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT data FROM entities WHERE entity_type = ? AND group_id = ? ORDER BY updated_at DESC, id`,
		string(models.EntityExpense), groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		var expense models.Expense
		if err := scanEntity(rows, &expense); err != nil {
			return nil, err
		}
		expenses = append(expenses, &expense)
	}
	return expenses, rows.Err()
}

// ReplaceExpense stores the server copy of an expense and drops the record kept
// under localID when the server assigned a different id.
func (db *DB) ReplaceExpense(ctx context.Context, localID string, expense *models.Expense) error {
	if expense == nil || expense.ID == "" {
		return errors.New("expense id is required")
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if localID != "" && localID != expense.ID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(models.EntityExpense), localID); err != nil {
				return fmt.Errorf("failed to drop local expense: %w", err)
			}
			if err := renameQueued(ctx, tx, models.EntityExpense, localID, expense.ID); err != nil {
				return err
			}
		}
		return putEntity(ctx, tx, models.EntityExpense, expense.ID, expense.GroupID, expense)
	})
}

// ReplaceGroupExpenses makes the cached expenses of a group match the server list.
// Records listed in keep are left alone because they still have local changes queued.
func (db *DB) ReplaceGroupExpenses(ctx context.Context, groupID string, expenses []*models.Expense, keep map[string]bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM entities WHERE entity_type = ? AND group_id = ?`, string(models.EntityExpense), groupID)
		if err != nil {
			return fmt.Errorf("failed to list cached expenses: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan cached expense: %w", err)
			}
			stale = append(stale, id)
		}
		rows.Close()

		fresh := make(map[string]bool, len(expenses))
		for _, e := range expenses {
			if keep[e.ID] {
				continue
			}
			fresh[e.ID] = true
			if err := putEntity(ctx, tx, models.EntityExpense, e.ID, groupID, e); err != nil {
				return err
			}
		}
		for _, id := range stale {
			if fresh[id] || keep[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(models.EntityExpense), id); err != nil {
				return fmt.Errorf("failed to drop stale expense: %w", err)
			}
		}
		return nil
	})
}

func (db *DB) PutGroup(ctx context.Context, group *models.Group) error {
	if group == nil || group.ID == "" {
		return errors.New("group id is required")
	}
	return putEntity(ctx, db.DB, models.EntityGroup, group.ID, "", group)
}

func (db *DB) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	if err := db.getEntity(ctx, models.EntityGroup, id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (db *DB) DeleteGroup(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return deleteGroup(ctx, tx, id)
	})
}

// deleteGroup drops a group together with its cached expenses.
func deleteGroup(ctx context.Context, ex execer, id string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(models.EntityGroup), id); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND group_id = ?`, string(models.EntityExpense), id); err != nil {
		return fmt.Errorf("failed to delete group expenses: %w", err)
	}
	return nil
}

func (db *DB) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM entities WHERE entity_type = ? ORDER BY id`, string(models.EntityGroup))
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var group models.Group
		if err := scanEntity(rows, &group); err != nil {
			return nil, err
		}
		groups = append(groups, &group)
	}
	return groups, rows.Err()
}

// ReplaceGroup swaps a locally created group for the server copy.
func (db *DB) ReplaceGroup(ctx context.Context, localID string, group *models.Group) error {
	if group == nil || group.ID == "" {
		return errors.New("group id is required")
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if localID != "" && localID != group.ID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(models.EntityGroup), localID); err != nil {
				return fmt.Errorf("failed to drop local group: %w", err)
			}
			// Expenses created offline under the local id follow the group.
			if _, err := tx.ExecContext(ctx, `UPDATE entities SET group_id = ?, data = json_set(data, '$.group_id', ?) WHERE entity_type = ? AND group_id = ?`,
				group.ID, group.ID, string(models.EntityExpense), localID); err != nil {
				return fmt.Errorf("failed to move group expenses: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE mutation_queue
				 SET group_id = ?, payload = CASE WHEN payload IS NULL THEN NULL ELSE json_set(payload, '$.group_id', ?) END
				 WHERE entity_type = ? AND group_id = ?`,
				group.ID, group.ID, string(models.EntityExpense), localID); err != nil {
				return fmt.Errorf("failed to move queued expenses: %w", err)
			}
			if err := renameQueued(ctx, tx, models.EntityGroup, localID, group.ID); err != nil {
				return err
			}
		}
		return putEntity(ctx, tx, models.EntityGroup, group.ID, "", group)
	})
}

func (db *DB) PutUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return errors.New("user id is required")
	}
	return putEntity(ctx, db.DB, models.EntityUser, user.ID, "", user)
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := db.getEntity(ctx, models.EntityUser, id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// renameQueued points queued follow-up mutations of a locally created entity at
// the id the server assigned.
func renameQueued(ctx context.Context, tx *sql.Tx, entityType models.EntityType, localID, serverID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE mutation_queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`,
		serverID, string(entityType), localID); err != nil {
		return fmt.Errorf("failed to rename queued %s mutations: %w", entityType, err)
	}
	return nil
}

func putEntity(ctx context.Context, ex execer, entityType models.EntityType, id, groupID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entityType, id, err)
	}

	query := `INSERT INTO entities (entity_type, id, group_id, data, updated_at) VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(entity_type, id) DO UPDATE SET group_id = excluded.group_id, data = excluded.data, updated_at = excluded.updated_at`
	if _, err := ex.ExecContext(ctx, query, string(entityType), id, nullableString(groupID), string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store %s %s: %w", entityType, id, err)
	}
	return nil
}

func (db *DB) getEntity(ctx context.Context, entityType models.EntityType, id string, out interface{}) error {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM entities WHERE entity_type = ? AND id = ?`, string(entityType), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entityType, id, ErrEntityNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", entityType, id, err)
	}
	return nil
}

func (db *DB) deleteEntity(ctx context.Context, entityType models.EntityType, id string) error {
	return deleteEntityRow(ctx, db.DB, entityType, id)
}

func deleteEntityRow(ctx context.Context, ex execer, entityType models.EntityType, id string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(entityType), id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	return nil
}

// applyCacheWrite performs the cache half of a LocalWrite.
func applyCacheWrite(ctx context.Context, ex execer, w models.LocalWrite) error {
	req := w.Mutation
	if req.Action == models.ActionDelete {
		if req.EntityType == models.EntityGroup {
			return deleteGroup(ctx, ex, req.EntityID)
		}
		return deleteEntityRow(ctx, ex, req.EntityType, req.EntityID)
	}

	var id, groupID string
	var entityType models.EntityType
	switch e := w.Entity.(type) {
	case *models.Expense:
		entityType, id, groupID = models.EntityExpense, e.ID, e.GroupID
	case *models.Group:
		entityType, id = models.EntityGroup, e.ID
	case *models.User:
		entityType, id = models.EntityUser, e.ID
	default:
		return fmt.Errorf("unsupported cached entity %T", w.Entity)
	}
	if entityType != req.EntityType || id != req.EntityID {
		return fmt.Errorf("cached %s %s does not match mutation %s:%s", entityType, id, req.EntityType, req.EntityID)
	}
	return putEntity(ctx, ex, entityType, id, groupID, w.Entity)
}

func scanEntity(rows *sql.Rows, out interface{}) error {
	var data string
	if err := rows.Scan(&data); err != nil {
		return fmt.Errorf("failed to scan entity: %w", err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to decode entity: %w", err)
	}
	return nil
}
