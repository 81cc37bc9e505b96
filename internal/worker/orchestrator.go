package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"splitsync/internal/domain"
	"splitsync/internal/events"
	"splitsync/internal/logging"
	"splitsync/internal/metrics"
	"splitsync/internal/models"
	"splitsync/internal/transport/bulk"

	"github.com/rs/zerolog"
)

var (
	ErrOffline        = errors.New("cannot sync while offline")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Transport labels reported in DrainResult.
const (
	TransportNone     = "none"
	TransportBulk     = "bulk"
	TransportFallback = "fallback"
	TransportMixed    = "mixed"
)

// BulkSyncer runs one bulk session to its terminal event.
type BulkSyncer interface {
	Sync(ctx context.Context, changes []bulk.Change) (*bulk.Completion, error)
}

// Deps are the collaborators of an Orchestrator. Bulk and DeadLetters may be nil.
type Deps struct {
	Queue       domain.MutationQueue
	Cache       domain.EntityCache
	Bulk        BulkSyncer
	Entities    domain.EntityTransport
	Monitor     domain.Connectivity
	DeadLetters domain.DeadLetterRepository
	Events      domain.EventPublisher
}

// Config tunes the drain loop.
type Config struct {
	Debounce    time.Duration
	ReadTimeout time.Duration
	BulkTimeout time.Duration
	Retry       RetryPolicy
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Reason    string        `json:"reason"`
	Transport string        `json:"transport"`
	Submitted int           `json:"submitted"`
	Synced    int           `json:"synced"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	InFlight  int           `json:"in_flight"`
	Duration  time.Duration `json:"duration"`
}

// Orchestrator drains the local mutation queue into the server. At most one
// drain runs at a time; triggers that arrive while draining are dropped.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zerolog.Logger
	now    func() time.Time

	draining atomic.Bool

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	debounce    *time.Timer
	retry       *time.Timer
	unsubscribe func()
	stopped     bool
	wg          sync.WaitGroup
}

func NewOrchestrator(deps Deps, cfg Config, logger *zerolog.Logger) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = models.DefaultDebounceMillis * time.Millisecond
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = models.DefaultReadTimeoutMillis * time.Millisecond
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = 30 * time.Second
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 2 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = time.Minute
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2
	}

	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logging.Component(logger, "orchestrator"),
		now:    time.Now,
	}
}

// Start recovers items stranded by a previous process, subscribes to
// connectivity edges and drains right away when fully online.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.deps.Queue.ClearAllProcessingFlags(ctx)
	if err != nil {
		return fmt.Errorf("recover processing flags: %w", err)
	}
	if n > 0 {
		o.logger.Warn().Int64("items", n).Msg("released items left in flight by previous run")
	}

	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.unsubscribe = o.deps.Monitor.Subscribe(o.onConnectivity)
	o.mu.Unlock()

	o.logger.Info().Msg("sync orchestrator started")
	if o.deps.Monitor.IsFullyOnline() {
		o.TriggerSync("startup")
	}
	return nil
}

// Stop cancels timers and any running drain and waits for it to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.stopTimersLocked()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info().Msg("sync orchestrator stopped")
}

func (o *Orchestrator) stopTimersLocked() {
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
}

func (o *Orchestrator) onConnectivity(fullyOnline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	if !fullyOnline {
		o.stopTimersLocked()
		o.logger.Info().Msg("connectivity lost, pending drains canceled")
		return
	}

	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.cfg.Debounce, func() { o.TriggerSync("connectivity") })
}

// TriggerSync starts a background drain if fully online and idle. It never blocks.
func (o *Orchestrator) TriggerSync(reason string) {
	if !o.deps.Monitor.IsFullyOnline() || o.draining.Load() {
		return
	}

	o.mu.Lock()
	if o.stopped || o.ctx == nil {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if _, err := o.runDrain(ctx, reason); err != nil && !errors.Is(err, ErrSyncInProgress) {
			o.logger.Error().Err(err).Str("reason", reason).Msg("drain failed")
		}
	}()
}

// ForceSync drains synchronously on behalf of a user request.
func (o *Orchestrator) ForceSync(ctx context.Context) (*DrainResult, error) {
	if !o.deps.Monitor.IsFullyOnline() {
		return nil, ErrOffline
	}
	return o.runDrain(ctx, "manual")
}

// IsDraining reports whether a drain cycle is active.
func (o *Orchestrator) IsDraining() bool {
	return o.draining.Load()
}

func (o *Orchestrator) runDrain(ctx context.Context, reason string) (*DrainResult, error) {
	if !o.draining.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.draining.Store(false)

	start := o.now()
	result := o.drain(ctx, reason)
	result.Duration = o.now().Sub(start)

	if result.Transport != TransportNone {
		metrics.ObserveDrain(result.Transport, result.Duration)
		metrics.IncItems("synced", result.Synced)
		metrics.IncItems("retried", result.Retried)
		metrics.IncItems("dropped", result.Dropped)
		metrics.IncItems("in_flight", result.InFlight)

		o.logger.Info().
			Str("reason", reason).
			Str("transport", result.Transport).
			Int("submitted", result.Submitted).
			Int("synced", result.Synced).
			Int("retried", result.Retried).
			Int("dropped", result.Dropped).
			Int("in_flight", result.InFlight).
			Dur("duration", result.Duration).
			Msg("drain finished")
		o.publish(events.EventSyncCompleted, result)
	}

	if result.Retried > 0 || result.InFlight > 0 {
		o.scheduleRetry(ctx, result)
	}
	return result, nil
}

func (o *Orchestrator) scheduleRetry(ctx context.Context, result *DrainResult) {
	if ctx.Err() != nil || !o.deps.Monitor.IsFullyOnline() {
		return
	}

	attempt := 1
	if items, err := o.deps.Queue.DequeueUnprocessed(ctx); err == nil {
		for _, item := range items {
			if item.RetryCount+1 > attempt {
				attempt = item.RetryCount + 1
			}
		}
	}
	delay := o.cfg.Retry.NextDelay(attempt)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	if o.retry != nil {
		o.retry.Stop()
	}
	o.retry = time.AfterFunc(delay, func() { o.TriggerSync("retry") })
	o.logger.Debug().Dur("delay", delay).Int("retried", result.Retried).Msg("re-drain scheduled")
}

// drain runs one cycle: select, mark, bulk attempt, fallback, residual cleanup.
func (o *Orchestrator) drain(ctx context.Context, reason string) *DrainResult {
	result := &DrainResult{Reason: reason, Transport: TransportNone}

	// The latch guarantees no attempt owns these items any more.
	if n, err := o.deps.Queue.ClearAllProcessingFlags(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("failed to release stale in-flight items")
	} else if n > 0 {
		o.logger.Info().Int64("items", n).Msg("released items left in flight by previous drain")
	}

	items := o.readQueue(ctx)
	if len(items) == 0 {
		return result
	}
	var selectedUntil time.Time
	for _, item := range items {
		if item.EnqueuedAt.After(selectedUntil) {
			selectedUntil = item.EnqueuedAt
		}
	}

	for _, item := range items {
		if err := o.deps.Queue.MarkProcessing(ctx, item.ID); err != nil {
			o.logger.Warn().Err(err).Str("item_id", item.ID).Msg("failed to mark item processing")
		}
	}
	result.Submitted = len(items)
	o.publish(events.EventSyncStarted, events.Notification{
		Level:   events.LevelSuccess,
		Message: "sync started",
		Pending: len(items),
	})

	var bulkItems, directItems []*models.MutationQueueItem
	for _, item := range items {
		if item.EntityType == models.EntityUser {
			directItems = append(directItems, item)
			continue
		}
		bulkItems = append(bulkItems, item)
	}

	confirmed := make(map[models.MutationKey]bool)
	fallbackItems := directItems

	// Without a bulk endpoint every item goes through the fallback in queue order.
	if o.deps.Bulk == nil {
		bulkItems = nil
		fallbackItems = items
	}

	if len(bulkItems) > 0 {
		completion, err := o.tryBulk(ctx, bulkItems)
		switch {
		case err == nil:
			result.Transport = TransportBulk
			o.reconcileCompletion(ctx, bulkItems, completion, result, confirmed)
		case ctx.Err() != nil:
			o.logger.Info().Err(err).Int("items", len(items)).Msg("drain canceled during bulk sync, items released")
			o.release(ctx, items)
			return result
		default:
			o.logger.Warn().Err(err).Int("items", len(bulkItems)).Msg("bulk sync failed, falling back to per-item requests")
			metrics.IncBulkFailure(bulkFailureReason(err))
			o.publish(events.EventSyncFallback, events.Notification{
				Level:   events.LevelWarning,
				Message: "bulk sync unavailable, syncing items one by one",
				Error:   err.Error(),
				Pending: len(bulkItems),
			})
			o.release(ctx, bulkItems)
			fallbackItems = items
		}
	}

	if len(fallbackItems) > 0 {
		if result.Transport == TransportBulk {
			result.Transport = TransportMixed
		} else {
			result.Transport = TransportFallback
		}
		o.runFallback(ctx, fallbackItems, result, confirmed)
	}

	for key := range confirmed {
		n, err := o.deps.Queue.RemoveMatching(ctx, key, selectedUntil)
		if err != nil {
			o.logger.Warn().Err(err).Str("key", key.String()).Msg("residual cleanup failed")
			continue
		}
		if n > 0 {
			o.logger.Debug().Int64("removed", n).Str("key", key.String()).Msg("removed residual confirmed items")
		}
	}

	if n, err := o.deps.Queue.CountUnprocessed(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
	return result
}

func (o *Orchestrator) readQueue(ctx context.Context) []*models.MutationQueueItem {
	readCtx, cancel := context.WithTimeout(ctx, o.cfg.ReadTimeout)
	defer cancel()

	items, err := o.deps.Queue.DequeueUnprocessed(readCtx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("queue read failed, treating queue as empty")
		return nil
	}
	return items
}

func (o *Orchestrator) tryBulk(ctx context.Context, items []*models.MutationQueueItem) (*bulk.Completion, error) {
	changes := make([]bulk.Change, 0, len(items))
	for _, item := range items {
		change, err := bulk.ChangeFromItem(item)
		if err != nil {
			return nil, fmt.Errorf("build change for %s: %w", item.Key(), err)
		}
		changes = append(changes, change)
	}

	bulkCtx, cancel := context.WithTimeout(ctx, o.cfg.BulkTimeout)
	defer cancel()
	return o.deps.Bulk.Sync(bulkCtx, changes)
}

func bulkFailureReason(err error) string {
	var closeErr *bulk.CloseError
	var serverErr *bulk.ServerError
	switch {
	case errors.Is(err, bulk.ErrNoEndpoint):
		return "no_endpoint"
	case errors.Is(err, bulk.ErrNoToken), errors.Is(err, bulk.ErrTokenExpired):
		return "no_token"
	case errors.Is(err, bulk.ErrMissingToken), errors.Is(err, bulk.ErrInvalidToken):
		return "auth"
	case errors.Is(err, bulk.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, bulk.ErrServerInternal):
		return "server_internal"
	case errors.Is(err, bulk.ErrInvalidResponse):
		return "invalid_response"
	case errors.As(err, &serverErr):
		return "server_error"
	case errors.As(err, &closeErr):
		return "unexpected_close"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// reconcileCompletion removes exactly the submitted items named by the
// completion notifications. Unmatched items stay in flight until the next drain.
func (o *Orchestrator) reconcileCompletion(ctx context.Context, items []*models.MutationQueueItem, completion *bulk.Completion, result *DrainResult, confirmed map[models.MutationKey]bool) {
	notified := make(map[models.MutationKey]bool, len(completion.Notifications))
	for _, n := range completion.Notifications {
		key, err := bulk.ParseNotification(n)
		if err != nil {
			o.logger.Warn().Err(err).Msg("ignoring malformed completion notification")
			continue
		}
		notified[key] = true
	}

	groups := make(map[string]bool)
	refreshGroups := false
	for _, item := range items {
		key := item.Key()
		if !notified[key] {
			result.InFlight++
			continue
		}
		if err := o.deps.Queue.Remove(ctx, item.ID); err != nil {
			o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to remove confirmed item")
			continue
		}
		confirmed[key] = true
		result.Synced++
		o.publishItem(events.EventItemSynced, events.LevelSuccess, item, "")

		switch item.EntityType {
		case models.EntityExpense:
			if item.Action == models.ActionDelete {
				o.cacheErr(o.deps.Cache.DeleteExpense(ctx, item.EntityID), item)
			}
			groups[item.GroupID] = true
		case models.EntityGroup:
			if item.Action == models.ActionDelete {
				o.cacheErr(o.deps.Cache.DeleteGroup(ctx, item.EntityID), item)
			}
			refreshGroups = true
		}
	}

	if result.InFlight > 0 {
		o.logger.Warn().Int("items", result.InFlight).Str("operation_id", completion.OperationID).
			Msg("completion did not confirm every submitted item")
	}
	o.refreshCache(ctx, groups, refreshGroups)
}

// refreshCache pulls the authoritative copies after a bulk completion. Records
// that still have queued mutations keep their optimistic local state.
func (o *Orchestrator) refreshCache(ctx context.Context, groups map[string]bool, refreshGroups bool) {
	if o.deps.Entities == nil {
		return
	}

	// Bulk writes bypass the transport, so any list it cached is older than them.
	if lc, ok := o.deps.Entities.(domain.ListCache); ok {
		ids := make([]string, 0, len(groups))
		for groupID := range groups {
			ids = append(ids, groupID)
		}
		lc.InvalidateLists(ctx, ids...)
	}

	if refreshGroups {
		list, err := o.deps.Entities.ListGroups(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("failed to refresh groups after bulk sync")
		} else {
			pending, _ := o.deps.Queue.PendingEntityIDs(ctx, models.EntityGroup)
			for _, g := range list {
				if pending[g.ID] {
					continue
				}
				if err := o.deps.Cache.PutGroup(ctx, g); err != nil {
					o.logger.Error().Err(err).Str("group_id", g.ID).Msg("failed to cache group")
				}
			}
		}
	}

	if len(groups) == 0 {
		return
	}
	pending, err := o.deps.Queue.PendingEntityIDs(ctx, models.EntityExpense)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to read pending expenses")
		return
	}
	for groupID := range groups {
		list, err := o.deps.Entities.ListExpenses(ctx, groupID)
		if err != nil {
			o.logger.Warn().Err(err).Str("group_id", groupID).Msg("failed to refresh expenses after bulk sync")
			continue
		}
		if err := o.deps.Cache.ReplaceGroupExpenses(ctx, groupID, list, pending); err != nil {
			o.logger.Error().Err(err).Str("group_id", groupID).Msg("failed to cache expenses")
		}
	}
}

// runFallback replays items one at a time in queue order.
func (o *Orchestrator) runFallback(ctx context.Context, items []*models.MutationQueueItem, result *DrainResult, confirmed map[models.MutationKey]bool) {
	ids := newIDMap()

	for i, item := range items {
		if ctx.Err() != nil {
			o.release(ctx, items[i:])
			return
		}

		ids.resolve(item)
		err := o.applyItem(ctx, item, ids)
		if err == nil {
			if err := o.deps.Queue.Remove(ctx, item.ID); err != nil {
				o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to remove synced item")
				continue
			}
			confirmed[item.Key()] = true
			result.Synced++
			o.publishItem(events.EventItemSynced, events.LevelSuccess, item, "")
			continue
		}

		if ctx.Err() != nil {
			o.release(ctx, []*models.MutationQueueItem{item})
			continue
		}
		o.recordFailure(ctx, item, err, result)
	}
}

// release hands items back to the next drain. It also runs after ctx is canceled.
func (o *Orchestrator) release(ctx context.Context, items []*models.MutationQueueItem) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range items {
		if err := o.deps.Queue.ReleaseProcessing(ctx, item.ID); err != nil {
			o.logger.Warn().Err(err).Str("item_id", item.ID).Msg("failed to release item")
		}
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, item *models.MutationQueueItem, cause error, result *DrainResult) {
	dropped, err := o.deps.Queue.RecordFailure(ctx, item.ID, cause.Error())
	if err != nil {
		o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to record item failure")
		return
	}

	if !dropped {
		result.Retried++
		o.logger.Warn().Err(cause).Str("key", item.Key().String()).Int("attempt", item.RetryCount+1).Msg("item sync failed, will retry")
		o.publishItem(events.EventItemRetry, events.LevelWarning, item, cause.Error())
		return
	}

	result.Dropped++
	o.logger.Error().Err(cause).Str("key", item.Key().String()).Msg("item dropped after exhausting attempts")

	if o.deps.DeadLetters != nil {
		lastErr := cause.Error()
		letter := *item
		letter.RetryCount = models.MaxAttempts
		letter.LastError = &lastErr
		letter.Processing = false
		if err := o.deps.DeadLetters.Push(ctx, &domain.DeadLetter{Item: letter, Reason: lastErr, DroppedAt: o.now()}); err != nil {
			o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to store dead letter")
		}
	}
	o.publishItem(events.EventItemDropped, events.LevelWarning, item, cause.Error())
}

// applyItem performs the per-entity call for item and writes the server copy
// into the cache.
func (o *Orchestrator) applyItem(ctx context.Context, item *models.MutationQueueItem, ids *idMap) error {
	if o.deps.Entities == nil {
		return errors.New("no entity transport configured")
	}

	switch item.EntityType {
	case models.EntityExpense:
		return o.applyExpense(ctx, item, ids)
	case models.EntityGroup:
		return o.applyGroup(ctx, item, ids)
	case models.EntityUser:
		return o.applyUser(ctx, item)
	default:
		return fmt.Errorf("unknown entity type %q", item.EntityType)
	}
}

func (o *Orchestrator) applyExpense(ctx context.Context, item *models.MutationQueueItem, ids *idMap) error {
	payload, _ := item.ExpensePayload()

	switch item.Action {
	case models.ActionCreate:
		expense, err := o.deps.Entities.CreateExpense(ctx, item.GroupID, item.EntityID, payload)
		if err != nil {
			return err
		}
		if expense.GroupID == "" {
			expense.GroupID = item.GroupID
		}
		ids.record(models.EntityExpense, item.EntityID, expense.ID)
		return o.deps.Cache.ReplaceExpense(ctx, item.EntityID, expense)
	case models.ActionUpdate:
		expense, err := o.deps.Entities.UpdateExpense(ctx, item.GroupID, item.EntityID, payload)
		if err != nil {
			return err
		}
		if expense.GroupID == "" {
			expense.GroupID = item.GroupID
		}
		return o.deps.Cache.PutExpense(ctx, expense)
	case models.ActionDelete:
		err := o.deps.Entities.DeleteExpense(ctx, item.GroupID, item.EntityID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return o.deps.Cache.DeleteExpense(ctx, item.EntityID)
	default:
		return fmt.Errorf("unknown action %q", item.Action)
	}
}

func (o *Orchestrator) applyGroup(ctx context.Context, item *models.MutationQueueItem, ids *idMap) error {
	payload, _ := item.GroupPayload()

	switch item.Action {
	case models.ActionCreate:
		group, err := o.deps.Entities.CreateGroup(ctx, item.EntityID, payload)
		if err != nil {
			return err
		}
		ids.record(models.EntityGroup, item.EntityID, group.ID)
		return o.deps.Cache.ReplaceGroup(ctx, item.EntityID, group)
	case models.ActionUpdate:
		group, err := o.deps.Entities.UpdateGroup(ctx, item.EntityID, payload)
		if err != nil {
			return err
		}
		return o.deps.Cache.PutGroup(ctx, group)
	case models.ActionDelete:
		err := o.deps.Entities.DeleteGroup(ctx, item.EntityID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return o.deps.Cache.DeleteGroup(ctx, item.EntityID)
	default:
		return fmt.Errorf("unknown action %q", item.Action)
	}
}

func (o *Orchestrator) applyUser(ctx context.Context, item *models.MutationQueueItem) error {
	if item.Action != models.ActionUpdate {
		return fmt.Errorf("user %s is not supported", item.Action)
	}
	payload, _ := item.UserPayload()
	user, err := o.deps.Entities.UpdateProfile(ctx, payload)
	if err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = item.EntityID
	}
	return o.deps.Cache.PutUser(ctx, user)
}

func (o *Orchestrator) cacheErr(err error, item *models.MutationQueueItem) {
	if err != nil {
		o.logger.Error().Err(err).Str("key", item.Key().String()).Msg("failed to update cache")
	}
}

func (o *Orchestrator) publishItem(eventType string, level events.Level, item *models.MutationQueueItem, errMsg string) {
	o.publish(eventType, events.Notification{
		Level:      level,
		Message:    fmt.Sprintf("%s %s", item.EntityType, item.Action),
		EntityType: string(item.EntityType),
		EntityID:   item.EntityID,
		Action:     string(item.Action),
		Error:      errMsg,
	})
}

func (o *Orchestrator) publish(eventType string, payload interface{}) {
	if o.deps.Events == nil {
		return
	}
	if err := o.deps.Events.PublishJSON(eventType, payload); err != nil {
		o.logger.Debug().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

// idMap tracks server ids assigned during one fallback pass so later items in
// the same pass address the server record.
type idMap struct {
	ids map[models.EntityType]map[string]string
}

func newIDMap() *idMap {
	return &idMap{ids: make(map[models.EntityType]map[string]string)}
}

func (m *idMap) record(entityType models.EntityType, localID, serverID string) {
	if serverID == "" || localID == serverID {
		return
	}
	if m.ids[entityType] == nil {
		m.ids[entityType] = make(map[string]string)
	}
	m.ids[entityType][localID] = serverID
}

func (m *idMap) resolve(item *models.MutationQueueItem) {
	if id, ok := m.ids[item.EntityType][item.EntityID]; ok {
		item.EntityID = id
	}
	if item.EntityType != models.EntityExpense {
		return
	}
	if id, ok := m.ids[models.EntityGroup][item.GroupID]; ok {
		item.GroupID = id
		if p, ok := item.ExpensePayload(); ok && p.GroupID != "" {
			p.GroupID = id
		}
	}
}
